package config

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/nexchat/gateway/pkg/safego"
)

// ManifestWatcher 监听 tools.yaml 变更并回调最新清单。
// 编辑器保存往往触发多个事件，200ms 的防抖窗口把它们并成一次重载。
type ManifestWatcher struct {
	path     string
	onChange func(*ToolManifest)
	logger   *zap.Logger
}

// NewManifestWatcher 创建清单监听器
func NewManifestWatcher(path string, onChange func(*ToolManifest), logger *zap.Logger) *ManifestWatcher {
	return &ManifestWatcher{
		path:     path,
		onChange: onChange,
		logger:   logger.With(zap.String("component", "manifest_watcher")),
	}
}

// Start 启动监听，随 ctx 取消而退出
func (w *ManifestWatcher) Start(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	// 监听目录而不是文件本身：很多编辑器用重命名替换文件，文件级监听会失效
	dir := filepath.Dir(w.path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return err
	}

	safego.Go(w.logger, "manifest-watcher", func() {
		defer watcher.Close()
		w.loop(ctx, watcher)
	})
	return nil
}

func (w *ManifestWatcher) loop(ctx context.Context, watcher *fsnotify.Watcher) {
	var debounce *time.Timer
	target := filepath.Clean(w.path)

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(200*time.Millisecond, w.reload)
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("manifest watch error", zap.Error(err))
		}
	}
}

func (w *ManifestWatcher) reload() {
	manifest, err := LoadToolManifest(w.path)
	if err != nil {
		w.logger.Warn("manifest reload failed, keeping previous settings", zap.Error(err))
		return
	}
	w.logger.Info("tool manifest reloaded", zap.Int("tools", len(manifest.Tools)))
	w.onChange(manifest)
}
