package agent

import (
	"encoding/json"
	"strings"

	"github.com/kaptinlin/jsonrepair"

	"github.com/trendwatch/trendwatch/pkg/models"
)

// taskSpec is the wire shape of one entry in a model's "new_tasks" list.
type taskSpec struct {
	Label      string         `json:"label"`
	Payload    map[string]any `json:"payload"`
	Priority   *int           `json:"priority"`
	MaxRetries *int           `json:"max_retries"`
}

// parseFinal interprets the model's closing message. Strict JSON is tried
// first, then a repaired parse (models love trailing commas and unquoted
// keys), and anything unparseable is kept verbatim as the result data.
func parseFinal(text string) *models.Result {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return &models.Result{}
	}

	var value any
	if err := json.Unmarshal([]byte(trimmed), &value); err != nil {
		// Only JSON-looking text is worth repairing; prose stays prose.
		if trimmed[0] != '{' && trimmed[0] != '[' {
			return &models.Result{Data: text}
		}
		repaired, repairErr := jsonrepair.JSONRepair(trimmed)
		if repairErr != nil {
			return &models.Result{Data: text}
		}
		if err := json.Unmarshal([]byte(repaired), &value); err != nil {
			return &models.Result{Data: text}
		}
	}

	obj, ok := value.(map[string]any)
	if !ok {
		return &models.Result{Data: value}
	}
	rawTasks, ok := obj["new_tasks"]
	if !ok {
		return &models.Result{Data: value}
	}

	return &models.Result{
		Data:     obj["data"],
		NewTasks: buildTasks(rawTasks),
	}
}

// buildTasks converts the decoded "new_tasks" value into queue tasks.
// Entries without a label cannot be routed and are dropped.
func buildTasks(raw any) []*models.Task {
	b, err := json.Marshal(raw)
	if err != nil {
		return nil
	}
	var specs []taskSpec
	if err := json.Unmarshal(b, &specs); err != nil {
		return nil
	}

	tasks := make([]*models.Task, 0, len(specs))
	for _, spec := range specs {
		if spec.Label == "" {
			continue
		}
		t := models.NewTask(spec.Label, spec.Payload)
		if spec.Priority != nil {
			t.Priority = *spec.Priority
		}
		if spec.MaxRetries != nil {
			t.MaxRetries = *spec.MaxRetries
		}
		tasks = append(tasks, t)
	}
	return tasks
}
