// Package tool 工具运行时：注册表、限流、缓存、熔断、降级链和执行管线。
package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"go.uber.org/zap"

	domaintool "github.com/nexchat/gateway/internal/domain/tool"
	domainErrors "github.com/nexchat/gateway/pkg/errors"
)

type registeredPlugin struct {
	plugin   domaintool.Plugin
	settings domaintool.Settings
	schema   *jsonschema.Schema
}

// PluginRegistry 线程安全的插件注册表。
// 注册时编译参数 Schema，编译失败的插件直接拒绝。
type PluginRegistry struct {
	mu      sync.RWMutex
	plugins map[string]*registeredPlugin
	logger  *zap.Logger
}

// NewRegistry 创建插件注册表
func NewRegistry(logger *zap.Logger) *PluginRegistry {
	return &PluginRegistry{
		plugins: make(map[string]*registeredPlugin),
		logger:  logger,
	}
}

var _ domaintool.Registry = (*PluginRegistry)(nil)

// Register 注册插件并编译其 Schema。
// 实现了 Initializer 的插件在这里完成一次性初始化。
func (r *PluginRegistry) Register(plugin domaintool.Plugin, settings domaintool.Settings) error {
	name := plugin.Name()
	if name == "" {
		return domainErrors.NewInvalidInputError("plugin name is empty")
	}

	schema, err := compileSchema(name, plugin.Schema())
	if err != nil {
		return domainErrors.NewInvalidInputError(
			fmt.Sprintf("plugin %s schema compile failed: %v", name, err))
	}

	if init, ok := plugin.(domaintool.Initializer); ok {
		if err := init.Init(context.Background()); err != nil {
			return domainErrors.NewInternalError(
				fmt.Sprintf("plugin %s init failed: %v", name, err))
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.plugins[name]; exists {
		return domainErrors.NewAlreadyExistsError("plugin already registered: " + name)
	}
	r.plugins[name] = &registeredPlugin{
		plugin:   plugin,
		settings: settings,
		schema:   schema,
	}

	r.logger.Info("工具插件已注册",
		zap.String("tool", name),
		zap.String("version", plugin.Version()),
		zap.Bool("enabled", settings.Enabled))
	return nil
}

// Unregister 注销插件
func (r *PluginRegistry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.plugins, name)
}

// Get 按名称查找插件
func (r *PluginRegistry) Get(name string) (domaintool.Plugin, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.plugins[name]
	if !ok {
		return nil, false
	}
	return reg.plugin, true
}

// SettingsFor 返回插件的运行时配置
func (r *PluginRegistry) SettingsFor(name string) (domaintool.Settings, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.plugins[name]
	if !ok {
		return domaintool.Settings{}, false
	}
	return reg.settings, true
}

// ApplySettings 热更新插件配置
func (r *PluginRegistry) ApplySettings(name string, settings domaintool.Settings) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	reg, ok := r.plugins[name]
	if !ok {
		return domainErrors.NewNotFoundError("plugin not found: " + name)
	}
	reg.settings = settings
	r.logger.Info("工具配置已热更新", zap.String("tool", name))
	return nil
}

// Validate 用编译好的 Schema 校验参数，再执行插件自身的校验钩子
func (r *PluginRegistry) Validate(name string, params map[string]interface{}) error {
	r.mu.RLock()
	reg, ok := r.plugins[name]
	r.mu.RUnlock()
	if !ok {
		return domainErrors.NewNotFoundError("plugin not found: " + name)
	}

	if reg.schema != nil {
		if err := reg.schema.Validate(normalizeForSchema(params)); err != nil {
			return domainErrors.NewInvalidInputError(
				fmt.Sprintf("params failed schema validation: %v", err))
		}
	}
	if validator, ok := reg.plugin.(domaintool.Validator); ok {
		if err := validator.Validate(params); err != nil {
			return domainErrors.NewInvalidInputError(err.Error())
		}
	}
	return nil
}

// Definitions 返回所有启用插件的描述，给大模型的函数调用声明用
func (r *PluginRegistry) Definitions() []domaintool.Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]domaintool.Definition, 0, len(r.plugins))
	for _, reg := range r.plugins {
		if !reg.settings.Enabled {
			continue
		}
		defs = append(defs, domaintool.Definition{
			Name:        reg.plugin.Name(),
			Description: reg.plugin.Description(),
			Parameters:  reg.plugin.Schema(),
		})
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// Names 返回所有启用插件的名称
func (r *PluginRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.plugins))
	for name, reg := range r.plugins {
		if reg.settings.Enabled {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// compileSchema 编译插件的 JSON Schema
func compileSchema(name string, schema map[string]interface{}) (*jsonschema.Schema, error) {
	if schema == nil {
		return nil, nil
	}
	raw, err := json.Marshal(schema)
	if err != nil {
		return nil, err
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	compiler := jsonschema.NewCompiler()
	url := name + ".schema.json"
	if err := compiler.AddResource(url, doc); err != nil {
		return nil, err
	}
	return compiler.Compile(url)
}

// normalizeForSchema 走一遍 JSON 编解码，保证校验器拿到规范的类型
func normalizeForSchema(params map[string]interface{}) interface{} {
	if params == nil {
		return map[string]interface{}{}
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return params
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return params
	}
	return doc
}
