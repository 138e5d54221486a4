package slack

import (
	"fmt"

	goslack "github.com/slack-go/slack"
)

const maxBlockTextLength = 2900

var statusEmoji = map[string]string{
	"done":  ":white_check_mark:",
	"error": ":x:",
}

var statusLabel = map[string]string{
	"done":  "Monitoring Round Complete",
	"error": "Monitoring Round Failed",
}

// BuildRoundMessage creates Block Kit blocks for a terminal monitoring-round
// notification. Summary text is included for successful rounds; the error
// message for failed ones.
func BuildRoundMessage(input RoundCompletedInput) []goslack.Block {
	emoji := statusEmoji[input.Status]
	if emoji == "" {
		emoji = ":question:"
	}
	label := statusLabel[input.Status]
	if label == "" {
		label = "Monitoring Round " + input.Status
	}

	headerText := fmt.Sprintf("%s *%s* — %s `%s`", emoji, label, input.EntityType, input.EntityName)

	var blocks []goslack.Block
	blocks = append(blocks, goslack.NewSectionBlock(
		goslack.NewTextBlockObject(goslack.MarkdownType, headerText, false, false),
		nil, nil,
	))

	body := input.Summary
	if input.Status != "done" && input.ErrorMessage != "" {
		body = fmt.Sprintf("*Error:*\n%s", input.ErrorMessage)
	}
	if body != "" {
		blocks = append(blocks, goslack.NewSectionBlock(
			goslack.NewTextBlockObject(goslack.MarkdownType, truncateForSlack(body), false, false),
			nil, nil,
		))
	}

	return blocks
}

func truncateForSlack(text string) string {
	runes := []rune(text)
	if len(runes) <= maxBlockTextLength {
		return text
	}
	return string(runes[:maxBlockTextLength]) + "\n\n_... (truncated)_"
}
