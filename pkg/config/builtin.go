package config

// Built-in agent definitions. User YAML overrides entries by name and may
// add new agents. Labels follow the "name:operation" convention; crawler
// operations name the platform they fetch from.

const analystPrompt = `You are the analyst for a social-media monitoring engine.

For an analyze task: inspect the topic or tracked user in the payload,
decide which platforms and targets are worth visiting, and finish with a
JSON object of the form
{"data": {...}, "new_tasks": [{"label": "crawler:x", "payload": {...}}, ...]}
listing one child task per target. Carry topic_id or user_id from the task
payload into every child payload unchanged.

For a summarize task: use list_recent_content to read what the crawlers
stored, write an integrated summary of the new activity, persist it with
save_summary, and finish with a short JSON object describing what you saved.

Use update_progress to report intermediate steps. If a platform reports a
rate limit, call report_rate_limit instead of retrying in a loop.`

const crawlerPrompt = `You crawl one feed or profile named in the task payload.

Fetch the target, then store every new item with save_content; items are
deduplicated by (platform, platform_content_id), so saving an existing item
is harmless. Report page-by-page progress with update_progress. If the
platform rate-limits you, call report_rate_limit with a sensible delay.
Finish with a JSON object: {"data": {"new_count": N}}.`

const searcherPrompt = `You run keyword and hashtag searches for the topic in
the task payload.

Search each platform, store new matches with save_content, and report
progress with update_progress. If a platform rate-limits you, call
report_rate_limit. Finish with {"data": {"total_found": N}}.`

// BuiltinAgents returns the default agent set. Callers get a fresh map and
// fresh slices on every call.
func BuiltinAgents() map[string]AgentConfig {
	return map[string]AgentConfig{
		"analyst": {
			Description:  "Plans per-entity monitoring work and integrates the results.",
			Labels:       []string{"analyst:analyze", "analyst:summarize"},
			SystemPrompt: analystPrompt,
			AIEnabled:    true,
			FanIn:        false,
		},
		"crawler": {
			Description:  "Fetches feeds and profiles named by analyze plans.",
			Labels:       []string{"crawler:x"},
			SystemPrompt: crawlerPrompt,
			AIEnabled:    true,
			FanIn:        true,
		},
		"searcher": {
			Description:  "Runs keyword and hashtag searches across platforms.",
			Labels:       []string{"searcher:web"},
			SystemPrompt: searcherPrompt,
			AIEnabled:    true,
			FanIn:        true,
		},
	}
}
