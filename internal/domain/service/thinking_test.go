package service

import "testing"

func TestSplitThinking(t *testing.T) {
	tests := []struct {
		name         string
		input        string
		wantContent  string
		wantThinking string
	}{
		{
			name:        "no tags",
			input:       "普通回答内容",
			wantContent: "普通回答内容",
		},
		{
			name:         "closed think block",
			input:        "<think>先分析问题</think>这是答案",
			wantContent:  "这是答案",
			wantThinking: "先分析问题",
		},
		{
			name:         "unclosed think during streaming",
			input:        "<think>还在思考中",
			wantContent:  "",
			wantThinking: "还在思考中",
		},
		{
			name:         "content before and after",
			input:        "前言<think>推理过程</think>结论",
			wantContent:  "前言结论",
			wantThinking: "推理过程",
		},
		{
			name:         "multiple blocks",
			input:        "<think>第一步</think>部分回答<think>第二步</think>最终回答",
			wantContent:  "部分回答最终回答",
			wantThinking: "第一步第二步",
		},
		{
			name:         "case insensitive thinking variant",
			input:        "<Thinking>reasoning</Thinking>answer",
			wantContent:  "answer",
			wantThinking: "reasoning",
		},
		{
			name:        "stray close tag ignored",
			input:       "回答</think>继续",
			wantContent: "回答继续",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			content, thinking := SplitThinking(tt.input)
			if content != tt.wantContent {
				t.Errorf("content = %q, want %q", content, tt.wantContent)
			}
			if thinking != tt.wantThinking {
				t.Errorf("thinking = %q, want %q", thinking, tt.wantThinking)
			}
		})
	}
}

func TestSplitThinkingMonotonic(t *testing.T) {
	// 模拟流式累计：逐步增长的输入不应让已出现的正文消失
	full := "<think>分析</think>答案正文"
	var lastContent string
	for i := 1; i <= len(full); i++ {
		if !validUTF8Prefix(full, i) {
			continue
		}
		content, _ := SplitThinking(full[:i])
		if len(content) < len(lastContent) && lastContent != "" {
			// 标签边界附近的瞬时回退可以接受，完整标签闭合后不允许
			if i == len(full) {
				t.Errorf("final content shorter than intermediate: %q < %q", content, lastContent)
			}
			continue
		}
		lastContent = content
	}
	if lastContent != "答案正文" {
		t.Errorf("final content = %q, want 答案正文", lastContent)
	}
}

// validUTF8Prefix 判断截断点是否落在多字节字符中间
func validUTF8Prefix(s string, n int) bool {
	return n >= len(s) || (s[n]&0xC0) != 0x80
}
