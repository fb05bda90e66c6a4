package jsonrepair

import (
	"encoding/json"
	"testing"
)

func TestRepair(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "valid passthrough",
			input: `{"tool":"web_search","query":"golang"}`,
			want:  `{"tool":"web_search","query":"golang"}`,
		},
		{
			name:  "trailing comma in object",
			input: `{"a":1,"b":2,}`,
			want:  `{"a":1,"b":2}`,
		},
		{
			name:  "trailing comma in array",
			input: `{"items":[1,2,3,]}`,
			want:  `{"items":[1,2,3]}`,
		},
		{
			name:  "unclosed object",
			input: `{"a":{"b":1`,
			want:  `{"a":{"b":1}}`,
		},
		{
			name:  "unclosed string and object",
			input: `{"query":"天气`,
			want:  `{"query":"天气"}`,
		},
		{
			name:  "bare keys",
			input: `{tool: "search", query: "news"}`,
			want:  `{"tool": "search", "query": "news"}`,
		},
		{
			name:  "markdown fence",
			input: "```json\n{\"a\":1}\n```",
			want:  `{"a":1}`,
		},
		{
			name:  "prose before object",
			input: `好的，这是结果：{"a":1}`,
			want:  `{"a":1}`,
		},
		{
			name:  "structural chars inside string untouched",
			input: `{"a":"x,}{[","b":2,}`,
			want:  `{"a":"x,}{[","b":2}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Repair(tt.input)
			if got != tt.want {
				t.Errorf("Repair(%q) = %q, want %q", tt.input, got, tt.want)
			}
			if !json.Valid([]byte(got)) {
				t.Errorf("Repair(%q) produced invalid JSON: %q", tt.input, got)
			}
		})
	}
}

func TestParseObject(t *testing.T) {
	obj, err := ParseObject(`{tool: "web_search", query: "上海 天气",}`)
	if err != nil {
		t.Fatalf("ParseObject failed: %v", err)
	}
	if obj["tool"] != "web_search" {
		t.Errorf("tool = %v, want web_search", obj["tool"])
	}
	if obj["query"] != "上海 天气" {
		t.Errorf("query = %v, want 上海 天气", obj["query"])
	}
}

func TestParseObjectInvalid(t *testing.T) {
	if _, err := ParseObject("no json here"); err == nil {
		t.Error("expected error for input without JSON")
	}
}
