package service

import (
	"regexp"
	"strings"
)

// 思考标签的拆分。
//
// 推理类模型（DeepSeek-R1、Qwen3 等）把思考过程包在 <think> 标签里输出，
// 正文和思考要分开推给前端：思考进 thinking 字段折叠展示，正文进 content。
// 流式场景下标签经常尚未闭合，未闭合的 <think> 之后的内容全部算思考。

// quickThinkRe 快速判断文本里有没有思考标签，没有就跳过全部处理
var quickThinkRe = regexp.MustCompile(`(?i)<\s*/?\s*think(?:ing)?\b`)

// thinkTagRe 匹配开闭标签，捕获组 1 非空表示闭合标签
var thinkTagRe = regexp.MustCompile(`(?i)<\s*(/?)\s*think(?:ing)?\b[^<>]*>`)

// SplitThinking 把模型输出拆成正文和思考两部分。
// 对同一段不断增长的累计文本重复调用是安全的，结果只增不减。
func SplitThinking(text string) (content, thinking string) {
	if text == "" {
		return "", ""
	}
	if !quickThinkRe.MatchString(text) {
		return text, ""
	}

	matches := thinkTagRe.FindAllStringSubmatchIndex(text, -1)

	var body, think strings.Builder
	body.Grow(len(text))

	lastIndex := 0
	inThink := false

	for _, m := range matches {
		idx, end := m[0], m[1]
		isClose := m[2] != m[3]

		if inThink {
			think.WriteString(text[lastIndex:idx])
			if isClose {
				inThink = false
			}
		} else {
			body.WriteString(text[lastIndex:idx])
			if !isClose {
				inThink = true
			}
		}
		lastIndex = end
	}

	// 未闭合的尾部全部算思考
	if inThink {
		think.WriteString(text[lastIndex:])
	} else {
		body.WriteString(text[lastIndex:])
	}

	return strings.TrimSpace(body.String()), strings.TrimSpace(think.String())
}
