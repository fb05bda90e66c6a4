// Package jsonrepair 修复大模型输出中常见的 JSON 缺陷。
//
// 模型生成的 JSON 经常带有尾逗号、未闭合的括号或未加引号的键名，
// 直接 json.Unmarshal 会失败。这里在解析前做一次宽容修复，
// 修复失败时仍返回原始解析错误。
package jsonrepair

import (
	"encoding/json"
	"strings"
	"unicode"
)

// Repair 对原始文本做宽容修复，返回尽可能合法的 JSON 字符串。
//
// 处理的缺陷包括：Markdown 代码围栏、首个 '{' 或 '[' 之前的散文、
// 对象和数组里的尾逗号、未加引号的键名、未闭合的字符串和括号。
func Repair(raw string) string {
	s := stripFences(strings.TrimSpace(raw))
	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return s
	}
	s = s[start:]

	var (
		b            strings.Builder
		stack        []rune
		inStr        bool
		esc          bool
		pendingComma bool
		pendingWS    []rune
		lastSig      rune
	)
	b.Grow(len(s) + 8)

	runes := []rune(s)
	for i := 0; i < len(runes); i++ {
		r := runes[i]

		if inStr {
			b.WriteRune(r)
			if esc {
				esc = false
			} else if r == '\\' {
				esc = true
			} else if r == '"' {
				inStr = false
				lastSig = '"'
			}
			continue
		}

		if unicode.IsSpace(r) {
			if pendingComma {
				pendingWS = append(pendingWS, r)
			} else {
				b.WriteRune(r)
			}
			continue
		}

		if pendingComma {
			pendingComma = false
			// 尾逗号：下一个有效字符是闭括号时连同其后空白一并丢弃
			if r != '}' && r != ']' {
				b.WriteRune(',')
				b.WriteString(string(pendingWS))
				lastSig = ','
			}
			pendingWS = pendingWS[:0]
		}

		switch r {
		case '"':
			inStr = true
			b.WriteRune(r)
			continue
		case '{', '[':
			stack = append(stack, r)
			b.WriteRune(r)
			lastSig = r
			continue
		case '}', ']':
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
			b.WriteRune(r)
			lastSig = r
			continue
		case ',':
			pendingComma = true
			continue
		case ':':
			b.WriteRune(r)
			lastSig = r
			continue
		}

		// 对象里键的位置出现裸标识符时补引号
		if keyPosition(stack, lastSig) && isBareStart(r) {
			j := i
			for j < len(runes) && isBareChar(runes[j]) {
				j++
			}
			b.WriteByte('"')
			b.WriteString(string(runes[i:j]))
			b.WriteByte('"')
			lastSig = '"'
			i = j - 1
			continue
		}

		b.WriteRune(r)
		lastSig = r
	}

	if inStr {
		b.WriteByte('"')
	}
	for len(stack) > 0 {
		top := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if top == '{' {
			b.WriteByte('}')
		} else {
			b.WriteByte(']')
		}
	}
	return b.String()
}

// ParseObject 修复后解析为对象。优先尝试直接解析，避免改动本来合法的输入。
func ParseObject(raw string) (map[string]interface{}, error) {
	var out map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &out); err == nil {
		return out, nil
	}
	repaired := Repair(raw)
	if err := json.Unmarshal([]byte(repaired), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// keyPosition 判断当前是否处于对象键的位置。
func keyPosition(stack []rune, lastSig rune) bool {
	if len(stack) == 0 || stack[len(stack)-1] != '{' {
		return false
	}
	return lastSig == '{' || lastSig == ','
}

func isBareStart(r rune) bool {
	return isBareChar(r) && r != '-' && !unicode.IsDigit(r)
}

func isBareChar(r rune) bool {
	if unicode.IsSpace(r) {
		return false
	}
	switch r {
	case '{', '}', '[', ']', ',', ':', '"', '\'':
		return false
	}
	return true
}

func stripFences(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		head := strings.TrimSpace(s[:nl])
		// ```json 之类的语言标签整行丢弃
		if len(head) <= 8 && !strings.ContainsAny(head, "{[") {
			s = s[nl+1:]
		}
	}
	if idx := strings.LastIndex(s, "```"); idx >= 0 {
		s = s[:idx]
	}
	return strings.TrimSpace(s)
}
