package tool

import (
	"context"
	"fmt"
	"time"

	"github.com/mitchellh/mapstructure"

	domaintool "github.com/nexchat/gateway/internal/domain/tool"
)

// 时间工具：current_time / date_diff，无外部依赖，适合当降级链里的兜底工具。

// CurrentTimePlugin 查询当前时间
type CurrentTimePlugin struct{}

// NewCurrentTimePlugin 创建 current_time 插件
func NewCurrentTimePlugin() *CurrentTimePlugin { return &CurrentTimePlugin{} }

var _ domaintool.Plugin = (*CurrentTimePlugin)(nil)

func (t *CurrentTimePlugin) Name() string    { return "current_time" }
func (t *CurrentTimePlugin) Version() string { return "1.0.0" }
func (t *CurrentTimePlugin) Description() string {
	return "查询指定时区的当前时间。"
}

func (t *CurrentTimePlugin) Schema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"timezone": map[string]interface{}{
				"type":        "string",
				"description": "IANA 时区名，默认 Asia/Shanghai",
			},
		},
	}
}

func (t *CurrentTimePlugin) Execute(ctx context.Context, params map[string]interface{}, ec domaintool.ExecContext) (*domaintool.Result, error) {
	tz, _ := params["timezone"].(string)
	if tz == "" {
		tz = "Asia/Shanghai"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return domaintool.Fail(t.Name(), "unknown timezone: "+tz), nil
	}

	now := time.Now().In(loc)
	return &domaintool.Result{
		ToolName: t.Name(),
		Success:  true,
		Data: map[string]interface{}{
			"timezone":  tz,
			"datetime":  now.Format("2006-01-02 15:04:05"),
			"unix":      now.Unix(),
			"weekday":   now.Weekday().String(),
			"utcOffset": now.Format("-07:00"),
		},
	}, nil
}

// DateDiffPlugin 计算两个日期的间隔
type DateDiffPlugin struct{}

// NewDateDiffPlugin 创建 date_diff 插件
func NewDateDiffPlugin() *DateDiffPlugin { return &DateDiffPlugin{} }

var _ domaintool.Plugin = (*DateDiffPlugin)(nil)

func (t *DateDiffPlugin) Name() string    { return "date_diff" }
func (t *DateDiffPlugin) Version() string { return "1.0.0" }
func (t *DateDiffPlugin) Description() string {
	return "计算两个日期之间的间隔，支持 2006-01-02 和 RFC3339 格式。"
}

func (t *DateDiffPlugin) Schema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"from": map[string]interface{}{
				"type":        "string",
				"description": "起始日期",
			},
			"to": map[string]interface{}{
				"type":        "string",
				"description": "结束日期，默认今天",
			},
		},
		"required": []interface{}{"from"},
	}
}

type dateDiffParams struct {
	From string `mapstructure:"from"`
	To   string `mapstructure:"to"`
}

func (t *DateDiffPlugin) Execute(ctx context.Context, params map[string]interface{}, ec domaintool.ExecContext) (*domaintool.Result, error) {
	var p dateDiffParams
	if err := mapstructure.Decode(params, &p); err != nil {
		return domaintool.Fail(t.Name(), "invalid params: "+err.Error()), nil
	}
	if p.From == "" {
		return domaintool.Fail(t.Name(), "from is required"), nil
	}

	from, err := parseDate(p.From)
	if err != nil {
		return domaintool.Fail(t.Name(), "invalid from date: "+p.From), nil
	}
	to := time.Now()
	if p.To != "" {
		to, err = parseDate(p.To)
		if err != nil {
			return domaintool.Fail(t.Name(), "invalid to date: "+p.To), nil
		}
	}

	diff := to.Sub(from)
	days := int(diff.Hours() / 24)
	return &domaintool.Result{
		ToolName: t.Name(),
		Success:  true,
		Data: map[string]interface{}{
			"days":    days,
			"hours":   int(diff.Hours()),
			"minutes": int(diff.Minutes()),
			"human":   fmt.Sprintf("%d 天", days),
		},
	}, nil
}

func parseDate(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date: %s", s)
}
