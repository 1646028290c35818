package consumer

import "sync"

// Executor is the bounded worker pool business processing is dispatched to,
// so listener goroutines hand a delivery off and return to fetching. Submit
// blocks when every worker is busy and the queue is full, which naturally
// backpressures the listeners.
type Executor struct {
	tasks chan func()
	wg    sync.WaitGroup
}

func NewExecutor(workers int) *Executor {
	if workers <= 0 {
		workers = 1
	}

	e := &Executor{tasks: make(chan func(), workers*2)}
	for i := 0; i < workers; i++ {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			for task := range e.tasks {
				task()
			}
		}()
	}
	return e
}

func (e *Executor) Submit(task func()) {
	e.tasks <- task
}

// Shutdown stops accepting work and waits for in-flight tasks to finish.
func (e *Executor) Shutdown() {
	close(e.tasks)
	e.wg.Wait()
}
