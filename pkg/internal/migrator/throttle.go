package migrator

import (
	"context"
	"sync"
	"time"

	"github.com/yeisme/bucketdrain/pkg/metrics"
)

// Throttle 全体 worker 共享的粗粒度限流退避.
// 任何一个 worker 碰到限流都会暂停整个池子：限流是远端的
// 全局信号，单 worker 退避挡不住其余 worker 继续打爆它.
type Throttle struct {
	mu          sync.Mutex
	base        time.Duration
	max         time.Duration
	counter     int
	pausedUntil time.Time
}

// NewThrottle 创建退避器. base 是首个退避档位，max 封顶.
func NewThrottle(base, max time.Duration) *Throttle {
	if base <= 0 {
		base = time.Second
	}

	if max < base {
		max = base
	}

	return &Throttle{base: base, max: max}
}

// Wait 若处于暂停窗口则阻塞到窗口结束. ctx 取消时提前返回.
func (t *Throttle) Wait(ctx context.Context) error {
	t.mu.Lock()
	until := t.pausedUntil
	t.mu.Unlock()

	d := time.Until(until)
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Backoff 登记一次限流事件：计数加一，按 base×2^counter
// 指数延长暂停窗口（max 封顶），返回本次暂停时长.
// 已有更长的暂停窗口时不缩短.
func (t *Throttle) Backoff() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.counter++

	d := t.base
	for i := 0; i < t.counter && d < t.max; i++ {
		d *= 2
	}

	if d > t.max {
		d = t.max
	}

	until := time.Now().Add(d)
	if until.After(t.pausedUntil) {
		t.pausedUntil = until
	}

	metrics.ThrottleEvents.Inc()

	return d
}

// Success 一次完整操作成功后调用，清零退避计数.
func (t *Throttle) Success() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.counter = 0
}

// Counter 当前连续限流计数，只用于日志与测试.
func (t *Throttle) Counter() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.counter
}
