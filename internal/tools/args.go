package tools

import (
	"fmt"
	"strconv"
	"strings"
)

// StringArg returns args[key] as a trimmed string. Numbers are
// formatted; anything else yields "".
func StringArg(args map[string]any, key string) string {
	switch v := args[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	}
	return ""
}

// RequiredString is StringArg that fails when the value is empty.
func RequiredString(args map[string]any, key string) (string, error) {
	s := StringArg(args, key)
	if s == "" {
		return "", fmt.Errorf("%s is required", key)
	}
	return s, nil
}

// IntArg returns args[key] as an int, or def when missing or not a
// number. JSON numbers arrive as float64; models also send strings.
func IntArg(args map[string]any, key string, def int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n
		}
	}
	return def
}

// Object builds a JSON schema for an object with the given properties.
func Object(properties map[string]any, required ...string) map[string]any {
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// Prop is a schema property with a type and description.
func Prop(typ, description string) map[string]any {
	return map[string]any{"type": typ, "description": description}
}
