package badger

import (
	"bytes"
	"sync"

	"github.com/dep2p/go-quicktabs/pkg/interfaces"
)

// watchList 前缀订阅表
//
// notify 先在读锁下拷贝匹配的回调再逐个调用，回调内可以取消订阅。
type watchList struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[uint64]watchSub
}

type watchSub struct {
	prefix []byte
	fn     func(interfaces.StoreChange)
}

func (w *watchList) add(prefix []byte, fn func(interfaces.StoreChange)) func() {
	w.mu.Lock()
	if w.subs == nil {
		w.subs = make(map[uint64]watchSub)
	}
	w.nextID++
	id := w.nextID
	w.subs[id] = watchSub{prefix: prefix, fn: fn}
	w.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			w.mu.Lock()
			delete(w.subs, id)
			w.mu.Unlock()
		})
	}
}

func (w *watchList) notify(changes ...interfaces.StoreChange) {
	for _, ch := range changes {
		w.mu.RLock()
		var fns []func(interfaces.StoreChange)
		for _, s := range w.subs {
			if bytes.HasPrefix(ch.Key, s.prefix) {
				fns = append(fns, s.fn)
			}
		}
		w.mu.RUnlock()

		for _, fn := range fns {
			fn(ch)
		}
	}
}

func (w *watchList) len() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.subs)
}

func (w *watchList) clear() {
	w.mu.Lock()
	w.subs = nil
	w.mu.Unlock()
}
