package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/dep2p/go-quicktabs/internal/core/metrics"
	"github.com/dep2p/go-quicktabs/pkg/lib/log"
)

var logger = log.Logger("core/resilience")

const dispatchQueue = "dispatch"

// Operation 一个待分发的操作
type Operation struct {
	Name     string
	Priority Priority
	Run      func(ctx context.Context) error
}

type pendingOp struct {
	Operation
	result chan error
}

// ============================================================================
//                              Dispatcher
// ============================================================================

// Dispatcher 串行逐个排空的操作队列
//
// 高优先级先出队；每个操作单独限时，超时的操作被放弃，队列继续处理后续操作。
type Dispatcher struct {
	mu      sync.Mutex
	queues  [PriorityCritical + 1][]*pendingOp
	queued  int
	running bool
	closed  bool

	shedder *LoadShedder
	clock   clock.Clock
	metrics *metrics.Metrics
	timeout func() time.Duration

	wake   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewDispatcher 创建分发器
//
// timeout 在每个操作出队时调用，返回该操作的时限。
func NewDispatcher(shedder *LoadShedder, timeout func() time.Duration, clk clock.Clock, m *metrics.Metrics) *Dispatcher {
	if clk == nil {
		clk = clock.New()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		shedder: shedder,
		clock:   clk,
		metrics: m,
		timeout: timeout,
		wake:    make(chan struct{}, 1),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// OperationLimit 组合单个操作的时限
//
// 时限不低于 floor；自适应超时更长时以其为准，避免操作在等待响应期间被提前放弃。
func OperationLimit(floor time.Duration, adaptive func() time.Duration) func() time.Duration {
	return func() time.Duration {
		if adaptive == nil {
			return floor
		}
		return max(floor, adaptive())
	}
}

// Start 启动排空协程
func (d *Dispatcher) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running || d.closed {
		return
	}
	d.running = true
	d.wg.Add(1)
	go d.drain()
}

// Stop 停止分发，排队中的操作以 ErrClosed 结束
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	var abandoned []*pendingOp
	for p := range d.queues {
		abandoned = append(abandoned, d.queues[p]...)
		d.queues[p] = nil
	}
	d.queued -= len(abandoned)
	d.mu.Unlock()

	d.cancel()
	d.wg.Wait()
	for _, op := range abandoned {
		op.result <- ErrClosed
	}
	d.reportDepth(0)
}

// Submit 入队，返回结果通道；被卸载时返回 *ShedError
func (d *Dispatcher) Submit(op Operation) (<-chan error, error) {
	if op.Priority < PriorityLow || op.Priority > PriorityCritical {
		op.Priority = PriorityLow
	}
	if d.shedder != nil {
		if err := d.shedder.Admit(op.Name, op.Priority); err != nil {
			return nil, err
		}
	}

	p := &pendingOp{Operation: op, result: make(chan error, 1)}
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil, ErrClosed
	}
	d.queues[op.Priority] = append(d.queues[op.Priority], p)
	d.queued++
	n := d.queued
	d.mu.Unlock()

	d.reportDepth(n)
	select {
	case d.wake <- struct{}{}:
	default:
	}
	return p.result, nil
}

// Do 入队并等待结果
func (d *Dispatcher) Do(ctx context.Context, op Operation) error {
	result, err := d.Submit(op)
	if err != nil {
		return err
	}
	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Depth 排队中的操作数（含正在执行的）
func (d *Dispatcher) Depth() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.queued
}

func (d *Dispatcher) drain() {
	defer d.wg.Done()
	for {
		op := d.next()
		if op == nil {
			select {
			case <-d.wake:
				continue
			case <-d.ctx.Done():
				return
			}
		}
		op.result <- d.execute(op)

		d.mu.Lock()
		d.queued--
		n := d.queued
		d.mu.Unlock()
		d.reportDepth(n)
	}
}

// next 取出优先级最高的操作
func (d *Dispatcher) next() *pendingOp {
	d.mu.Lock()
	defer d.mu.Unlock()
	for p := len(d.queues) - 1; p >= 0; p-- {
		if q := d.queues[p]; len(q) > 0 {
			op := q[0]
			q[0] = nil
			d.queues[p] = q[1:]
			return op
		}
	}
	return nil
}

// execute 限时执行；超时后不再等待操作返回
func (d *Dispatcher) execute(op *pendingOp) error {
	limit := 5 * time.Second
	if d.timeout != nil {
		limit = d.timeout()
	}
	ctx, cancel := d.clock.WithTimeout(d.ctx, limit)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- op.Run(ctx)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		if d.ctx.Err() != nil {
			return ErrClosed
		}
		d.metrics.RecordOperationTimeout()
		logger.Warn("操作超时，已放弃", "op", op.Name, "after", limit)
		return &TimeoutError{Operation: op.Name, After: limit}
	}
}

func (d *Dispatcher) reportDepth(n int) {
	if d.shedder != nil {
		d.shedder.SetDepth(dispatchQueue, n)
	}
}
