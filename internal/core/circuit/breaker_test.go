package circuit

import (
	"errors"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

func newTestBreaker(mock *clock.Mock) *Breaker {
	return New(Config{
		Name:             "storage-write",
		FailureThreshold: 10,
		SuccessThreshold: 2,
		Cooldown:         5 * time.Second,
	}, mock)
}

// TestBreaker_OpensAfterThreshold 连续失败达到阈值后打开
func TestBreaker_OpensAfterThreshold(t *testing.T) {
	mock := clock.NewMock()
	b := newTestBreaker(mock)

	for i := 0; i < 9; i++ {
		assert.ErrorIs(t, b.Execute(func() error { return errBoom }), errBoom)
	}
	assert.Equal(t, StateClosed, b.State())

	assert.ErrorIs(t, b.Execute(func() error { return errBoom }), errBoom)
	assert.Equal(t, StateOpen, b.State())

	// 打开后不再调用 fn
	called := false
	err := b.Execute(func() error { called = true; return nil })
	assert.ErrorIs(t, err, ErrOpen)
	assert.False(t, called)
}

// TestBreaker_SuccessResetsFailures 成功清零连续失败计数
func TestBreaker_SuccessResetsFailures(t *testing.T) {
	b := newTestBreaker(clock.NewMock())
	for i := 0; i < 9; i++ {
		b.RecordFailure()
	}
	b.RecordSuccess()
	assert.Equal(t, 0, b.Failures())
	b.RecordFailure()
	assert.Equal(t, StateClosed, b.State())
}

// TestBreaker_HalfOpenLifecycle 冷却 -> 半开 -> 关闭
func TestBreaker_HalfOpenLifecycle(t *testing.T) {
	mock := clock.NewMock()
	b := newTestBreaker(mock)
	b.Trip()
	require.Equal(t, StateOpen, b.State())
	assert.Equal(t, mock.Now().Add(5*time.Second), b.RetryAt())

	mock.Add(4 * time.Second)
	assert.ErrorIs(t, b.Allow(), ErrOpen)

	mock.Add(time.Second)
	assert.Equal(t, StateHalfOpen, b.State())

	// 只允许一个探测
	require.NoError(t, b.Allow())
	assert.ErrorIs(t, b.Allow(), ErrOpen)

	b.RecordSuccess()
	assert.Equal(t, StateHalfOpen, b.State(), "需要两次成功")

	require.NoError(t, b.Allow())
	b.RecordSuccess()
	assert.Equal(t, StateClosed, b.State())
}

// TestBreaker_HalfOpenFailureReopens 半开状态失败重新打开
func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	mock := clock.NewMock()
	b := newTestBreaker(mock)
	b.Trip()
	mock.Add(5 * time.Second)

	require.NoError(t, b.Allow())
	b.RecordFailure()
	assert.Equal(t, StateOpen, b.State())

	// 冷却重新计时
	mock.Add(4 * time.Second)
	assert.Equal(t, StateOpen, b.State())
	mock.Add(time.Second)
	assert.Equal(t, StateHalfOpen, b.State())
}

// TestBreaker_OnStateChange 状态变化回调
func TestBreaker_OnStateChange(t *testing.T) {
	mock := clock.NewMock()
	b := New(Config{Name: "channel", FailureThreshold: 3, Cooldown: time.Second}, mock)

	var got []string
	b.OnStateChange(func(from, to State) {
		got = append(got, from.String()+"->"+to.String())
	})

	for i := 0; i < 3; i++ {
		b.RecordFailure()
	}
	mock.Add(time.Second)
	require.NoError(t, b.Allow())
	b.RecordSuccess()

	assert.Equal(t, []string{"CLOSED->OPEN", "OPEN->HALF_OPEN", "HALF_OPEN->CLOSED"}, got)

	// 重复 Reset 不触发回调
	b.Reset()
	assert.Len(t, got, 3)
}

// TestState_String 状态字符串
func TestState_String(t *testing.T) {
	assert.Equal(t, "CLOSED", StateClosed.String())
	assert.Equal(t, "OPEN", StateOpen.String())
	assert.Equal(t, "HALF_OPEN", StateHalfOpen.String())
	assert.Equal(t, "UNKNOWN", State(42).String())
}
