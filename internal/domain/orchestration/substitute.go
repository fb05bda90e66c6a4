package orchestration

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/nexchat/gateway/internal/domain/tool"
)

// refPattern 匹配 ${step1.data.items.0.title} 形式的引用
var refPattern = regexp.MustCompile(`\$\{([A-Za-z0-9_]+(?:\.[A-Za-z0-9_]+)*)\}`)

// resolver 把参数里的跨步骤引用替换成已完成步骤的结果字段。
// 引用缺失或指向失败步骤时保留字面量并记一条警告，让下游工具自己处理。
type resolver struct {
	outcomes map[string]*tool.Result
	docs     map[string]map[string]interface{}
	logger   *zap.Logger
}

func newResolver(logger *zap.Logger) *resolver {
	return &resolver{
		outcomes: make(map[string]*tool.Result),
		docs:     make(map[string]map[string]interface{}),
		logger:   logger,
	}
}

func (r *resolver) record(stepID string, result *tool.Result) {
	r.outcomes[stepID] = result
}

// resolveParams 深拷贝并替换整棵参数树
func (r *resolver) resolveParams(params map[string]interface{}) map[string]interface{} {
	if len(params) == 0 {
		return params
	}
	out := make(map[string]interface{}, len(params))
	for k, v := range params {
		out[k] = r.resolveValue(v)
	}
	return out
}

func (r *resolver) resolveValue(v interface{}) interface{} {
	switch t := v.(type) {
	case string:
		return r.resolveString(t)
	case map[string]interface{}:
		return r.resolveParams(t)
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = r.resolveValue(e)
		}
		return out
	default:
		return v
	}
}

// resolveString 字符串恰好是单个引用时返回原始类型的值，
// 否则把每个引用内插成文本。
func (r *resolver) resolveString(s string) interface{} {
	matches := refPattern.FindAllStringSubmatchIndex(s, -1)
	if len(matches) == 0 {
		return s
	}

	if len(matches) == 1 && matches[0][0] == 0 && matches[0][1] == len(s) {
		val, ok := r.lookup(s[matches[0][2]:matches[0][3]])
		if !ok {
			r.logger.Warn("unresolved step reference, keeping literal", zap.String("ref", s))
			return s
		}
		return val
	}

	return refPattern.ReplaceAllStringFunc(s, func(m string) string {
		path := m[2 : len(m)-1]
		val, ok := r.lookup(path)
		if !ok {
			r.logger.Warn("unresolved step reference, keeping literal", zap.String("ref", m))
			return m
		}
		return stringify(val)
	})
}

// lookup 解析 stepId.field.path 形式的路径
func (r *resolver) lookup(path string) (interface{}, bool) {
	segs := strings.Split(path, ".")
	stepID := segs[0]

	result, ok := r.outcomes[stepID]
	if !ok || result == nil || !result.Success {
		return nil, false
	}

	doc, ok := r.docFor(stepID, result)
	if !ok {
		return nil, false
	}

	var cur interface{} = doc
	for _, seg := range segs[1:] {
		switch node := cur.(type) {
		case map[string]interface{}:
			next, ok := node[seg]
			if !ok {
				return nil, false
			}
			cur = next
		case []interface{}:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, false
			}
			cur = node[idx]
		default:
			return nil, false
		}
	}
	return cur, true
}

// docFor 把结果转成可导航的文档，每个步骤只做一次
func (r *resolver) docFor(stepID string, result *tool.Result) (map[string]interface{}, bool) {
	if doc, ok := r.docs[stepID]; ok {
		return doc, true
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, false
	}
	var doc map[string]interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, false
	}
	r.docs[stepID] = doc
	return doc, true
}

func stringify(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	default:
		raw, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return string(raw)
	}
}
