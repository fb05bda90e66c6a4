package safego

import (
	"go.uber.org/zap"
)

// Go 启动一个带 panic 防护的后台 goroutine。
// panic 被捕获并连同堆栈记录日志，进程不退出。
//
//	safego.Go(logger, "manifest-watcher", func() { ... })
func Go(logger *zap.Logger, name string, fn func()) {
	if logger == nil {
		logger = zap.NewNop()
	}
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("后台 goroutine panic",
					zap.String("goroutine", name),
					zap.Any("panic", r),
					zap.Stack("stack"),
				)
			}
		}()
		fn()
	}()
}
