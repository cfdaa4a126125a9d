// Package prompts contains the prompt text the agent sends to models.
//
// Prompt text is Go code rather than config files because it is program
// logic: templates are interpolated with fmt and checked by tests. Each
// exported function accepts the dynamic parts and returns the fully
// interpolated prompt.
package prompts
