package worker

import (
	"context"
	"sync"
)

// Pool 固定大小的并发槽位；先 Acquire 再领取任务，保证不会领取超过处理能力的任务
type Pool struct {
	slots chan struct{}
	wg    sync.WaitGroup
}

func NewPool(size int) *Pool {
	if size <= 0 {
		size = 1
	}
	return &Pool{slots: make(chan struct{}, size)}
}

// Acquire 阻塞直到有空闲槽位；ctx 取消时返回 false
func (p *Pool) Acquire(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	case p.slots <- struct{}{}:
		return true
	}
}

// Release 归还一个未使用的槽位
func (p *Pool) Release() {
	<-p.slots
}

// Go 在已获取的槽位上运行 fn，结束后归还槽位
func (p *Pool) Go(fn func()) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.Release()
		fn()
	}()
}

// Busy 正在运行的数量
func (p *Pool) Busy() int {
	return len(p.slots)
}

func (p *Pool) Size() int {
	return cap(p.slots)
}

// Wait 等待所有已提交的任务结束
func (p *Pool) Wait() {
	p.wg.Wait()
}
