package badger

import (
	"github.com/dgraph-io/badger/v4"

	"github.com/dep2p/go-quicktabs/internal/core/storage/engine"
	"github.com/dep2p/go-quicktabs/pkg/interfaces"
)

// writeBatch 先在内存累积，Write 时一次刷入 badger.WriteBatch
type writeBatch struct {
	e   *Engine
	ops []interfaces.StoreChange
}

func (b *writeBatch) Put(key, value []byte) {
	if len(key) > 0 {
		b.ops = append(b.ops, interfaces.StoreChange{Key: clone(key), Value: clone(value)})
	}
}

func (b *writeBatch) Delete(key []byte) {
	if len(key) > 0 {
		b.ops = append(b.ops, interfaces.StoreChange{Key: clone(key), Deleted: true})
	}
}

func (b *writeBatch) Len() int {
	return len(b.ops)
}

// Write 提交后按添加顺序通知订阅者
func (b *writeBatch) Write() error {
	if b.e.closed.Load() {
		return engine.ErrClosed
	}
	if len(b.ops) == 0 {
		return nil
	}

	wb := b.e.db.NewWriteBatch()
	defer wb.Cancel()
	for _, op := range b.ops {
		var err error
		if op.Deleted {
			err = wb.Delete(op.Key)
		} else {
			err = wb.SetEntry(badger.NewEntry(op.Key, op.Value))
		}
		if err != nil {
			return translate(err)
		}
	}
	if err := wb.Flush(); err != nil {
		return translate(err)
	}

	ops := b.ops
	b.ops = nil
	for _, op := range ops {
		if op.Deleted {
			b.e.deletes.Add(1)
		} else {
			b.e.writes.Add(1)
		}
	}
	b.e.watch.notify(ops...)
	return nil
}
