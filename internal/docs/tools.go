package docs

import (
	"context"
	"fmt"
	"strings"

	"github.com/nugget/taskpilot/internal/tools"
)

const defaultSearchResults = 10

// RegisterTools adds the document tools to the registry.
func RegisterTools(reg *tools.Registry, lib *Library) {
	reg.MustRegister(&tools.Tool{
		Name:        "search_documents",
		Description: "Search the document library by file name and content.",
		Parameters: tools.Object(map[string]any{
			"query":       tools.Prop("string", "Text to look for"),
			"max_results": tools.Prop("integer", "Maximum documents to return (default 10)"),
		}, "query"),
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			q, err := tools.RequiredString(args, "query")
			if err != nil {
				return "", err
			}
			matches, err := lib.Search(ctx, q, tools.IntArg(args, "max_results", defaultSearchResults))
			if err != nil {
				return "", err
			}
			if len(matches) == 0 {
				return fmt.Sprintf("No documents matching %q.", q), nil
			}
			var sb strings.Builder
			fmt.Fprintf(&sb, "Found %d document(s):\n", len(matches))
			for _, m := range matches {
				fmt.Fprintf(&sb, "\n- %s (modified %s)", m.Path, m.Modified.Local().Format("2006-01-02 15:04"))
				if m.Snippet != "" {
					fmt.Fprintf(&sb, "\n  %s", m.Snippet)
				}
			}
			return sb.String(), nil
		},
	})

	reg.MustRegister(&tools.Tool{
		Name:        "read_document",
		Description: "Read a document from the library by its path.",
		Parameters: tools.Object(map[string]any{
			"path": tools.Prop("string", "Document path, as shown by search_documents"),
		}, "path"),
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			p, err := tools.RequiredString(args, "path")
			if err != nil {
				return "", err
			}
			doc, err := lib.Read(ctx, p)
			if err != nil {
				return "", err
			}
			var sb strings.Builder
			fmt.Fprintf(&sb, "Path: %s\n", doc.Path)
			if doc.Title != "" {
				fmt.Fprintf(&sb, "Title: %s\n", doc.Title)
			}
			fmt.Fprintf(&sb, "Modified: %s\n\n---\n\n", doc.Modified.Local().Format("2006-01-02 15:04"))
			text := doc.Text
			if len(text) > maxReadChars {
				text = strings.ToValidUTF8(text[:maxReadChars], "") + "\n\n[truncated]"
			}
			sb.WriteString(text)
			return sb.String(), nil
		},
	})

	reg.MustRegister(&tools.Tool{
		Name:        "create_document",
		Description: "Create a new document in the library. Content is markdown unless the path says otherwise.",
		Parameters: tools.Object(map[string]any{
			"path":      tools.Prop("string", "Path for the new document, e.g. 'notes/trip.md'"),
			"content":   tools.Prop("string", "Document content"),
			"overwrite": tools.Prop("boolean", "Replace the document if it already exists"),
		}, "path", "content"),
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			p, err := tools.RequiredString(args, "path")
			if err != nil {
				return "", err
			}
			overwrite, _ := args["overwrite"].(bool)
			created, err := lib.Create(ctx, p, contentArg(args), overwrite)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("Created %s.", created), nil
		},
	})

	reg.MustRegister(&tools.Tool{
		Name:        "append_to_document",
		Description: "Append text to the end of an existing document.",
		Parameters: tools.Object(map[string]any{
			"path":    tools.Prop("string", "Document path"),
			"content": tools.Prop("string", "Text to append"),
		}, "path", "content"),
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			p, err := tools.RequiredString(args, "path")
			if err != nil {
				return "", err
			}
			if err := lib.Append(ctx, p, contentArg(args)); err != nil {
				return "", err
			}
			return fmt.Sprintf("Appended to %s.", p), nil
		},
	})

	reg.MustRegister(&tools.Tool{
		Name:        "replace_in_document",
		Description: "Replace every occurrence of some exact text in a document.",
		Parameters: tools.Object(map[string]any{
			"path":     tools.Prop("string", "Document path"),
			"old_text": tools.Prop("string", "Exact text to find"),
			"new_text": tools.Prop("string", "Replacement text"),
		}, "path", "old_text", "new_text"),
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			p, err := tools.RequiredString(args, "path")
			if err != nil {
				return "", err
			}
			oldText, _ := args["old_text"].(string)
			newText, _ := args["new_text"].(string)
			n, err := lib.Replace(ctx, p, oldText, newText)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("Replaced %d occurrence(s) in %s.", n, p), nil
		},
	})
}

// contentArg returns the untrimmed content argument.
func contentArg(args map[string]any) string {
	s, _ := args["content"].(string)
	return s
}
