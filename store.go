package quicktabs

import (
	"github.com/dep2p/go-quicktabs/config"
	"github.com/dep2p/go-quicktabs/internal/core/storage"
	"github.com/dep2p/go-quicktabs/internal/core/storage/engine"
)

// SharedStore 多个 Tab 共享的持久化存储
//
// 浏览器中所有上下文看到同一份扩展存储；这里由同一个 BadgerDB 引擎扮演。
type SharedStore = engine.InternalEngine

// NewSharedStore 打开共享存储并启动其后台任务
func NewSharedStore(cfg config.StorageConfig) (SharedStore, error) {
	eng, err := storage.NewEngine(cfg)
	if err != nil {
		return nil, err
	}
	if err := eng.Start(); err != nil {
		_ = eng.Close()
		return nil, err
	}
	return eng, nil
}
