package config

import (
	"bytes"
	"os"
	"text/template"
)

// ExpandEnv expands environment variables in YAML content using Go templates.
// Uses {{.VAR_NAME}} syntax to avoid collision with $ in literal values.
//
// This prevents conflicts with $ characters commonly found in:
//   - Regex patterns in search filters: ^#ai.*$
//   - Credentials and cookies: p@ss$word
//   - Shell snippets pasted into prompts: $PATH
//
// Examples:
//   - {{.GROK_API_KEY}} → value of GROK_API_KEY environment variable
//   - {{.REDIS_HOST}}:{{.REDIS_PORT}} → hostname:port with both expanded
//
// Missing variables expand to empty string (unless template is malformed).
// Validation catches required fields that end up empty.
func ExpandEnv(data []byte) []byte {
	tmpl, err := template.New("config").Option("missingkey=zero").Parse(string(data))
	if err != nil {
		// Template parse failure: return original data and let the YAML
		// parser produce the clearer error.
		return data
	}

	envMap := make(map[string]string)
	for _, env := range os.Environ() {
		// Split only on first = to handle values with = in them
		if idx := bytes.IndexByte([]byte(env), '='); idx > 0 {
			envMap[env[:idx]] = env[idx+1:]
		}
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, envMap); err != nil {
		return data
	}
	return buf.Bytes()
}
