package builtin

import (
	"context"
	"fmt"
	"strings"

	"github.com/koscakluka/ema-desk/core/memory"
	"github.com/koscakluka/ema-desk/core/tools"
)

type rememberArgs struct {
	Key   string `json:"key" jsonschema:"required,description=Short name for the fact e.g. favourite_colour"`
	Value string `json:"value" jsonschema:"required"`
}

type recallArgs struct {
	Key string `json:"key" jsonschema:"required"`
}

type searchArgs struct {
	Query string `json:"query" jsonschema:"required,description=Text to look for in remembered facts and history"`
}

// Memory exposes the store to the model as remember_fact, recall_fact and
// search_memory.
func Memory(store memory.Store) []tools.Tool {
	return []tools.Tool{
		tools.NewTool("remember_fact", "Remember a fact about the user for later conversations",
			func(ctx context.Context, args rememberArgs) (tools.Result, error) {
				key := normalizeKey(args.Key)
				if err := store.Set(ctx, key, args.Value); err != nil {
					return tools.Result{}, err
				}
				return tools.Result{
					Summary: "Got it, I'll remember that.",
					Data:    map[string]string{"key": key, "value": args.Value},
				}, nil
			}),
		tools.NewTool("recall_fact", "Recall a previously remembered fact by its key",
			func(ctx context.Context, args recallArgs) (tools.Result, error) {
				key := normalizeKey(args.Key)
				value, ok, err := store.Get(ctx, key)
				if err != nil {
					return tools.Result{}, err
				}
				if !ok {
					return tools.Result{
						Summary: "I don't have anything saved for that.",
						Data:    map[string]any{"key": key, "found": false},
					}, nil
				}
				return tools.Result{
					Summary: fmt.Sprintf("%s is %s.", strings.ReplaceAll(key, "_", " "), value),
					Data:    map[string]any{"key": key, "found": true, "value": value},
				}, nil
			}),
		tools.NewTool("search_memory", "Search remembered facts and recent conversation history",
			func(ctx context.Context, args searchArgs) (tools.Result, error) {
				matches, err := store.Search(ctx, args.Query)
				if err != nil {
					return tools.Result{}, err
				}
				summary := "I couldn't find anything about that."
				if len(matches) > 0 {
					summary = strings.Join(matches, "; ")
				}
				return tools.Result{
					Summary: summary,
					Data:    map[string]any{"matches": matches},
				}, nil
			}),
	}
}

func normalizeKey(key string) string {
	return strings.Join(strings.Fields(strings.ToLower(key)), "_")
}
