package pool

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWorkerPool(t *testing.T) {
	t.Run("停止前执行完已入队任务", func(t *testing.T) {
		p := NewWorkerPool(3, 16, nil)
		p.Start(context.Background())

		var done atomic.Int32
		for i := 0; i < 10; i++ {
			assert.True(t, p.TrySubmit(func() { done.Add(1) }))
		}
		p.Stop()
		assert.Equal(t, int32(10), done.Load())
	})

	t.Run("队列满时拒绝提交", func(t *testing.T) {
		p := NewWorkerPool(1, 1, nil)
		// 未启动，任务只能排队
		assert.True(t, p.TrySubmit(func() {}))
		assert.False(t, p.TrySubmit(func() {}))
	})

	t.Run("任务 panic 不影响后续任务", func(t *testing.T) {
		p := NewWorkerPool(1, 4, nil)
		p.Start(context.Background())

		var done atomic.Int32
		p.TrySubmit(func() { panic("boom") })
		p.TrySubmit(func() { done.Add(1) })
		p.Stop()
		assert.Equal(t, int32(1), done.Load())
	})

	t.Run("重复停止安全", func(t *testing.T) {
		p := NewWorkerPool(0, 1, nil)
		p.Start(context.Background())
		p.Stop()
		assert.NotPanics(t, p.Stop)
	})
}
