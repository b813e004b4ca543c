package log

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func restoreDefault(t *testing.T) {
	t.Cleanup(func() {
		SetOutput(os.Stderr)
		SetLevel(slog.LevelInfo)
	})
}

func TestLazyLogger_FollowsOutputAndLevel(t *testing.T) {
	restoreDefault(t)

	// 在切换输出之前创建，仍然写到新输出
	l := Logger("core/state")

	var buf bytes.Buffer
	SetOutput(&buf)
	SetLevel(slog.LevelWarn)

	l.Info("不会输出")
	l.Warn("overlay 冲突", "id", "qt-1")
	assert.NotContains(t, buf.String(), "不会输出")
	assert.Contains(t, buf.String(), "component=core/state")
	assert.Contains(t, buf.String(), "id=qt-1")

	SetLevel(slog.LevelDebug)
	l.Debug("hydrate")
	assert.Contains(t, buf.String(), "hydrate")
}

func TestSetJSONOutput(t *testing.T) {
	restoreDefault(t)

	var buf bytes.Buffer
	SetJSONOutput(&buf)
	Logger("cmd/sim").With("tab", "tab-1").Error("失败", "attempt", 2)

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "cmd/sim", rec["component"])
	assert.Equal(t, "tab-1", rec["tab"])
	assert.Equal(t, "ERROR", rec["level"])
	assert.EqualValues(t, 2, rec["attempt"])
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("WARN"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("verbose"))
}

func TestTruncateID(t *testing.T) {
	assert.Equal(t, "abc", TruncateID("abc", 8))
	assert.Equal(t, "12345678", TruncateID("1234567890", 8))
}
