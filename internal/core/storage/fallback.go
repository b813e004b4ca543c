package storage

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/dep2p/go-quicktabs/internal/core/circuit"
	pkgif "github.com/dep2p/go-quicktabs/pkg/interfaces"
)

// ============================================================================
//                              广播回退记录
// ============================================================================

// WriteBroadcastRecord 写入一条自过期的广播回退记录
//
// 键为 <container>-<unixMilli>-<writer>-<n>，同一毫秒内的多条记录不会互相覆盖，
// 同一容器的其他上下文写入的记录也不会。
func (m *Manager) WriteBroadcastRecord(envelope []byte, ttl time.Duration) (string, error) {
	if err := m.writeBreaker.Allow(); err != nil {
		return "", ErrCircuitOpen
	}

	container := m.ContainerID()
	now := m.clock.Now()
	n := atomic.AddUint64(&m.bcCounter, 1)
	key := broadcastKey(container, now.UnixMilli(), m.bcWriter, n)

	data, err := json.Marshal(&BroadcastRecord{
		ContainerID: container,
		CreatedAt:   now.UnixMilli(),
		Envelope:    json.RawMessage(envelope),
	})
	if err == nil {
		err = m.broadcasts.PutWithTTL([]byte(key), data, ttl)
	}
	if err != nil {
		m.writeBreaker.RecordFailure()
		m.metrics.RecordStorageWriteFailure()
		return "", fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}
	m.writeBreaker.RecordSuccess()
	return key, nil
}

// OnBroadcastRecord 订阅当前容器新出现的回退记录
//
// 回调在写入者 goroutine 中同步执行，不得在回调内同步写存储。
func (m *Manager) OnBroadcastRecord(fn func(envelope []byte)) (cancel func()) {
	return m.broadcasts.Watch(func(ch pkgif.StoreChange) {
		if ch.Deleted {
			return
		}
		var rec BroadcastRecord
		if err := json.Unmarshal(ch.Value, &rec); err != nil {
			logger.Debug("忽略无法解码的回退记录", "key", string(ch.Key), "error", err)
			return
		}
		if rec.ContainerID != m.ContainerID() {
			return
		}
		fn([]byte(rec.Envelope))
	})
}

// SweepBroadcastRecords 删除早于 ttl 的回退记录，返回删除数量
func (m *Manager) SweepBroadcastRecords(ttl time.Duration) (int, error) {
	cutoff := m.clock.Now().Add(-ttl).UnixMilli()

	var stale [][]byte
	err := m.broadcasts.Scan(func(key, value []byte) bool {
		var rec BroadcastRecord
		if err := json.Unmarshal(value, &rec); err != nil {
			stale = append(stale, append([]byte(nil), key...))
			return true
		}
		if rec.CreatedAt <= cutoff {
			stale = append(stale, append([]byte(nil), key...))
		}
		return true
	})
	if err != nil {
		return 0, err
	}
	if len(stale) == 0 {
		return 0, nil
	}

	if err := m.broadcasts.DeleteKeys(stale); err != nil {
		return 0, err
	}
	logger.Debug("清理过期回退记录", "count", len(stale))
	return len(stale), nil
}

// WriteBreaker 存储写断路器（BroadcastManager 用于判断回退是否可用）
func (m *Manager) WriteBreaker() *circuit.Breaker {
	return m.writeBreaker
}

// broadcastKeys 列出某容器的回退记录键
func (m *Manager) broadcastKeys(container string) ([][]byte, error) {
	keys, err := m.broadcasts.Keys()
	if err != nil {
		return nil, err
	}
	var out [][]byte
	for _, k := range keys {
		if c, _, ok := parseBroadcastKey(string(k)); ok && c == container {
			out = append(out, k)
		}
	}
	return out, nil
}

// newWriterTag 生成回退记录键中的写入者标识（不含 '-'）
func newWriterTag() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}
