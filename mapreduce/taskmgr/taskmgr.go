package taskmgr

import (
	"container/list"
	"errors"
	"sync"
)

// HandlerFunc processes one task with the context registered for its key.
type HandlerFunc[C, T any] func(ctx C, task T) error

type queue struct {
	running bool
	tasks   list.List
}

// TaskManager runs one serial queue of tasks per key, with the queues of
// different keys running concurrently.
//
// Tasks may be added before Start, between Start and Wait, and from inside a
// handler. All adds made outside handlers must happen before Wait is called.
type TaskManager[C, T any] struct {
	contexts map[string]C
	mutex    sync.Mutex
	queues   map[string]*queue
	handler  HandlerFunc[C, T]
	running  bool
	errs     []error
	wg       sync.WaitGroup
}

func NewTaskManager[C, T any](handler HandlerFunc[C, T]) *TaskManager[C, T] {
	return &TaskManager[C, T]{
		contexts: make(map[string]C),
		queues:   make(map[string]*queue),
		handler:  handler,
	}
}

func (t *TaskManager[C, T]) AddContext(key string, ctx C) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.contexts[key] = ctx
}

func (t *TaskManager[C, T]) GetContext(key string) (C, bool) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	ctx, ok := t.contexts[key]
	return ctx, ok
}

// AddTaskContext queues task on key's queue.
func (t *TaskManager[C, T]) AddTaskContext(key string, task T) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	q, ok := t.queues[key]
	if !ok {
		q = &queue{}
		t.queues[key] = q
	}
	q.tasks.PushBack(task)
	if t.running && !q.running {
		q.running = true
		t.wg.Add(1)
		go t.runQueue(key, q)
	}
}

func (t *TaskManager[C, T]) runQueue(key string, q *queue) {
	defer t.wg.Done()
	t.mutex.Lock()
	ctx := t.contexts[key]
	for {
		if q.tasks.Len() == 0 {
			q.running = false
			t.mutex.Unlock()
			return
		}
		task := q.tasks.Remove(q.tasks.Front()).(T)
		t.mutex.Unlock()
		err := t.handler(ctx, task)
		t.mutex.Lock()
		if err != nil {
			t.errs = append(t.errs, err)
		}
	}
}

// Start begins draining every queue, including ones added later.
func (t *TaskManager[C, T]) Start() {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	if t.running {
		return
	}
	t.running = true
	for key, q := range t.queues {
		if !q.running && q.tasks.Len() > 0 {
			q.running = true
			t.wg.Add(1)
			go t.runQueue(key, q)
		}
	}
}

// Wait blocks until every queue is empty and returns the handler errors joined.
func (t *TaskManager[C, T]) Wait() error {
	t.wg.Wait()
	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.running = false
	err := errors.Join(t.errs...)
	t.errs = nil
	return err
}

// Run starts the manager and waits for the queued tasks.
func (t *TaskManager[C, T]) Run() error {
	t.Start()
	return t.Wait()
}
