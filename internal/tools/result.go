package tools

// Result is the outcome of one tool call: either Ok text or an Err.
// The agent loop turns both into an observation, so a failing tool can
// never abort a turn.
type Result struct {
	text string
	err  error
}

// Ok wraps successful tool output.
func Ok(text string) Result { return Result{text: text} }

// Err wraps a tool failure. A nil err is treated as an empty success.
func Err(err error) Result { return Result{err: err} }

// IsOk reports whether the call succeeded.
func (r Result) IsOk() bool { return r.err == nil }

// Text returns the tool output. It is empty for failures.
func (r Result) Text() string { return r.text }

// Error returns the failure, or nil.
func (r Result) Error() error { return r.err }
