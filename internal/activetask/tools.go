package activetask

import (
	"context"
	"fmt"

	"github.com/nugget/taskpilot/internal/tools"
)

// RegisterTools adds set_active_task and clear_active_task. The user is
// taken from the call context.
func RegisterTools(reg *tools.Registry, store *Store) {
	reg.MustRegister(&tools.Tool{
		Name: "set_active_task",
		Description: "Record the task you are working on across several turns, with everything " +
			"you will need to resume it. Replaces any previous active task.",
		Parameters: tools.Object(map[string]any{
			"title": tools.Prop("string", "Short title of the task"),
			"brief": tools.Prop("string", "Full context, decisions so far, and next steps"),
		}, "title", "brief"),
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			title, err := tools.RequiredString(args, "title")
			if err != nil {
				return "", err
			}
			task, err := store.Set(ctx, tools.UserIDFromContext(ctx), title, tools.StringArg(args, "brief"))
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("Active task set: %s", task.Title), nil
		},
	})

	reg.MustRegister(&tools.Tool{
		Name:        "clear_active_task",
		Description: "Clear the active task once it is finished or abandoned.",
		Parameters:  tools.Object(map[string]any{}),
		Handler: func(ctx context.Context, _ map[string]any) (string, error) {
			ok, err := store.Clear(ctx, tools.UserIDFromContext(ctx))
			if err != nil {
				return "", err
			}
			if !ok {
				return "There was no active task.", nil
			}
			return "Active task cleared.", nil
		},
	})
}
