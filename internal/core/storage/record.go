package storage

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/dep2p/go-quicktabs/pkg/types"
)

// 键空间
const (
	// ContainerPrefix 容器 overlay 记录前缀：qt/c/<containerId>
	ContainerPrefix = "qt/c/"

	// BroadcastPrefix 广播回退记录前缀：qt/bc/<containerId>-<unixMilli>-<n>
	BroadcastPrefix = "qt/bc/"
)

// ContainerRecord 一个容器的持久化记录
//
// SaveID 由写入者填写，用于识别自写入；协调器写入时为空（裸变更）。
type ContainerRecord struct {
	Overlays   []*types.Overlay `json:"overlays"`
	LastUpdate int64            `json:"lastUpdate"`
	SaveID     string           `json:"saveId,omitempty"`
}

// EncodeContainerRecord 编码容器记录
func EncodeContainerRecord(r *ContainerRecord) ([]byte, error) {
	if r.Overlays == nil {
		r.Overlays = []*types.Overlay{}
	}
	return json.Marshal(r)
}

// DecodeContainerRecord 解码容器记录
func DecodeContainerRecord(data []byte) (*ContainerRecord, error) {
	var r ContainerRecord
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptRecord, err)
	}
	return &r, nil
}

// BroadcastRecord 广播回退记录
type BroadcastRecord struct {
	ContainerID string          `json:"containerId"`
	CreatedAt   int64           `json:"createdAt"`
	Envelope    json.RawMessage `json:"envelope"`
}

// broadcastKey 构造回退记录键（不含前缀）
//
// writer 标识写入者，同一容器的多个上下文在同一毫秒写入时互不覆盖。
func broadcastKey(containerID string, unixMilli int64, writer string, n uint64) string {
	return containerID + "-" + strconv.FormatInt(unixMilli, 10) + "-" + writer + "-" + strconv.FormatUint(n, 10)
}

// parseBroadcastKey 解析回退记录键，返回容器 ID
//
// 容器 ID 本身可能包含 '-'，因此从右侧依次解析序号、写入者和时间戳。
func parseBroadcastKey(key string) (containerID string, unixMilli int64, ok bool) {
	i := strings.LastIndexByte(key, '-')
	if i <= 0 {
		return "", 0, false
	}
	if _, err := strconv.ParseUint(key[i+1:], 10, 64); err != nil {
		return "", 0, false
	}
	rest := key[:i]
	w := strings.LastIndexByte(rest, '-')
	if w <= 0 || w == len(rest)-1 {
		return "", 0, false
	}
	rest = rest[:w]
	j := strings.LastIndexByte(rest, '-')
	if j <= 0 {
		return "", 0, false
	}
	ts, err := strconv.ParseInt(rest[j+1:], 10, 64)
	if err != nil {
		return "", 0, false
	}
	return rest[:j], ts, true
}
