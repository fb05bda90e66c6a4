package llm

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/nexchat/gateway/pkg/jsonrepair"
)

// ToolCallAccumulator reassembles tool calls from streamed fragments.
// OpenAI-compatible streams split a call's arguments across many deltas,
// keyed by index; ID and name may arrive on any fragment.
type ToolCallAccumulator struct {
	entries map[int]*toolCallEntry
}

type toolCallEntry struct {
	id   string
	name string
	args strings.Builder
}

// NewToolCallAccumulator creates an empty accumulator.
func NewToolCallAccumulator() *ToolCallAccumulator {
	return &ToolCallAccumulator{entries: make(map[int]*toolCallEntry)}
}

// Add merges one fragment.
func (a *ToolCallAccumulator) Add(delta ToolCallDelta) {
	entry, ok := a.entries[delta.Index]
	if !ok {
		entry = &toolCallEntry{}
		a.entries[delta.Index] = entry
	}
	if delta.ID != "" {
		entry.id = delta.ID
	}
	if delta.Name != "" {
		entry.name = delta.Name
	}
	entry.args.WriteString(delta.Arguments)
}

// Pending reports whether any fragments have been accumulated.
func (a *ToolCallAccumulator) Pending() bool {
	return len(a.entries) > 0
}

// Calls assembles the accumulated fragments into complete tool calls,
// in index order. Argument text goes through the tolerant JSON parser so
// a truncated or sloppy upstream payload still yields usable params.
func (a *ToolCallAccumulator) Calls() []ToolCall {
	if len(a.entries) == 0 {
		return nil
	}
	indexes := make([]int, 0, len(a.entries))
	for idx := range a.entries {
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)

	calls := make([]ToolCall, 0, len(indexes))
	for _, idx := range indexes {
		entry := a.entries[idx]
		var args map[string]interface{}
		if raw := entry.args.String(); raw != "" {
			if err := json.Unmarshal([]byte(raw), &args); err != nil {
				args, _ = jsonrepair.ParseObject(raw)
			}
		}
		calls = append(calls, ToolCall{
			ID:        entry.id,
			Name:      entry.name,
			Arguments: args,
		})
	}
	return calls
}

// Reset clears accumulated state for the next assistant turn.
func (a *ToolCallAccumulator) Reset() {
	a.entries = make(map[int]*toolCallEntry)
}
