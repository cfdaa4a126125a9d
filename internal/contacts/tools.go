package contacts

import (
	"context"
	"fmt"
	"strings"

	"github.com/nugget/taskpilot/internal/tools"
)

const defaultLookupLimit = 5

// RegisterTools adds lookup_contact to the registry.
func RegisterTools(reg *tools.Registry, dir Directory) {
	reg.MustRegister(&tools.Tool{
		Name: "lookup_contact",
		Description: "Look up people and organizations in the user's address book by name, " +
			"nickname, company or email. Returns email addresses and phone numbers.",
		Parameters: tools.Object(map[string]any{
			"name":        tools.Prop("string", "Name, nickname, company or email fragment to search for"),
			"max_results": tools.Prop("integer", "Maximum contacts to return (default 5)"),
		}, "name"),
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			name, err := tools.RequiredString(args, "name")
			if err != nil {
				return "", err
			}
			list, err := dir.Search(ctx, name, tools.IntArg(args, "max_results", defaultLookupLimit))
			if err != nil {
				return "", fmt.Errorf("lookup %q: %w", name, err)
			}
			if len(list) == 0 {
				return fmt.Sprintf("No contacts matching %q.", name), nil
			}
			var sb strings.Builder
			fmt.Fprintf(&sb, "Found %d contact(s):\n\n", len(list))
			for _, c := range list {
				sb.WriteString(c.Format())
				sb.WriteString("\n")
			}
			return strings.TrimRight(sb.String(), "\n"), nil
		},
	})
}
