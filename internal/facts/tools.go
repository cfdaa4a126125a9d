package facts

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/nugget/taskpilot/internal/tools"
)

// RegisterTools adds remember_fact, list_facts and forget_fact to the
// registry.
func RegisterTools(reg *tools.Registry, store *Store) {
	reg.MustRegister(&tools.Tool{
		Name: "remember_fact",
		Description: "Store a durable fact about the user for later conversations. " +
			"Use for stable preferences, relationships, and details the user asks you to remember.",
		Parameters: tools.Object(map[string]any{
			"fact": tools.Prop("string", "The fact to remember, as a short self-contained sentence"),
		}, "fact"),
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			content, err := tools.RequiredString(args, "fact")
			if err != nil {
				return "", err
			}
			f, err := store.Add(ctx, content)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("Remembered fact #%d: %s", f.ID, f.Content), nil
		},
	})

	reg.MustRegister(&tools.Tool{
		Name:        "list_facts",
		Description: "List stored facts with their ids, optionally filtered by a search term.",
		Parameters: tools.Object(map[string]any{
			"query": tools.Prop("string", "Only list facts containing this text"),
		}),
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			var (
				list []*Fact
				err  error
			)
			if q := tools.StringArg(args, "query"); q != "" {
				list, err = store.Search(ctx, q)
			} else {
				list, err = store.ListAll(ctx)
			}
			if err != nil {
				return "", err
			}
			if len(list) == 0 {
				return "No facts found.", nil
			}
			var sb strings.Builder
			fmt.Fprintf(&sb, "%d fact(s):\n", len(list))
			for _, f := range list {
				fmt.Fprintf(&sb, "- #%d [%s] %s\n", f.ID, f.CreatedAt.Local().Format("2006-01-02"), f.Content)
			}
			return sb.String(), nil
		},
	})

	reg.MustRegister(&tools.Tool{
		Name:        "forget_fact",
		Description: "Delete a stored fact by its id. Use list_facts to find the id.",
		Parameters: tools.Object(map[string]any{
			"fact_id": tools.Prop("integer", "Id of the fact to delete"),
		}, "fact_id"),
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			id := tools.IntArg(args, "fact_id", 0)
			if id <= 0 {
				return "", fmt.Errorf("fact_id must be a positive integer")
			}
			ok, err := store.Delete(ctx, int64(id))
			if err != nil {
				return "", err
			}
			if !ok {
				return "No fact with id " + strconv.Itoa(id) + ".", nil
			}
			return fmt.Sprintf("Forgot fact #%d.", id), nil
		},
	})
}
