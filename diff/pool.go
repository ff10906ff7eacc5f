package diff

import (
	"errors"
	"fmt"
	"sync"
)

// ErrPoolClosed is returned by Pool.Execute after Close.
var ErrPoolClosed = errors.New("diff: worker pool closed")

// Executor runs the chunk kernel over every chunk of a frame and returns
// the results in chunk order. It returns only after every chunk finished.
type Executor interface {
	Execute(f *frame, chunks []chunk) ([]chunkResult, error)
}

// Sequential returns the in-process fallback executor. It runs the same
// kernel as the pool, one chunk after another.
func Sequential() Executor {
	return sequential{}
}

type sequential struct{}

func (sequential) Execute(f *frame, chunks []chunk) ([]chunkResult, error) {
	out := make([]chunkResult, len(chunks))
	for i, c := range chunks {
		if err := runChunk(f, c, &out[i]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

type task struct {
	f    *frame
	c    chunk
	out  *chunkResult
	done chan<- error
}

// Pool is a fixed set of worker goroutines fed through a task channel.
// Workers hold no state between tasks, so one Pool serves any number of
// comparisons, concurrently or not.
type Pool struct {
	size  int
	tasks chan task
	wg    sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// NewPool starts size workers.
func NewPool(size int) *Pool {
	if size < 1 {
		size = 1
	}
	p := &Pool{size: size, tasks: make(chan task)}
	p.wg.Add(size)
	for i := 0; i < size; i++ {
		go p.worker()
	}
	return p
}

// Size returns the number of workers.
func (p *Pool) Size() int { return p.size }

func (p *Pool) worker() {
	defer p.wg.Done()
	for t := range p.tasks {
		t.done <- runChunk(t.f, t.c, t.out)
	}
}

// Execute dispatches one task per chunk and joins on all of them.
func (p *Pool) Execute(f *frame, chunks []chunk) ([]chunkResult, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return nil, ErrPoolClosed
	}

	out := make([]chunkResult, len(chunks))
	done := make(chan error, len(chunks))
	for i, c := range chunks {
		p.tasks <- task{f: f, c: c, out: &out[i], done: done}
	}
	var firstErr error
	for range chunks {
		if err := <-done; err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if firstErr != nil {
		return nil, firstErr
	}
	return out, nil
}

// Close stops the workers after in-flight Execute calls return.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.tasks)
	p.mu.Unlock()
	p.wg.Wait()
}

// runChunk runs the kernel and turns a panic into an error.
func runChunk(f *frame, c chunk, out *chunkResult) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("diff: chunk rows %d-%d: %v", c.y0, c.y1, r)
		}
	}()
	*out = diffChunk(f, c)
	return nil
}
