package tools

import (
	"fmt"
	"strings"
)

// ErrToolNotFound is returned when a call names a tool that is not
// registered.
type ErrToolNotFound struct {
	ToolName string
}

// Error implements the error interface.
func (e *ErrToolNotFound) Error() string {
	return fmt.Sprintf("unknown tool: %s", e.ToolName)
}

// ErrInvalidArguments is returned when arguments fail the tool's JSON
// schema. The handler is not called.
type ErrInvalidArguments struct {
	ToolName string
	Problems []string
}

func (e *ErrInvalidArguments) Error() string {
	return fmt.Sprintf("invalid arguments for %s: %s", e.ToolName, strings.Join(e.Problems, "; "))
}
