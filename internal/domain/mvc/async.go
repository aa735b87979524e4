package mvc

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"
)

// AsyncState is the state of asynchronous processing for one request.
type AsyncState int32

// Async states. A handler moves the request from NotStarted to Started; the
// async work moves it to Completed; the re-dispatch moves it to Dispatched.
const (
	AsyncNotStarted AsyncState = iota
	AsyncStarted
	AsyncCompleted
	AsyncDispatched
)

func (s AsyncState) String() string {
	switch s {
	case AsyncNotStarted:
		return "not_started"
	case AsyncStarted:
		return "started"
	case AsyncCompleted:
		return "completed"
	case AsyncDispatched:
		return "dispatched"
	default:
		return fmt.Sprintf("AsyncState(%d)", int32(s))
	}
}

// AsyncResult is the outcome of async processing. Value is interpreted like a
// handler return value: *ModelAndView, View, a view name string, or nil.
type AsyncResult struct {
	Value any
	Err   error
}

// Callable produces a handler result off the request goroutine.
type Callable func(ctx context.Context) (any, error)

// Executor runs async tasks.
type Executor interface {
	Execute(ctx context.Context, task func()) error
}

// goExecutor runs every task on its own goroutine.
type goExecutor struct{}

func (goExecutor) Execute(_ context.Context, task func()) error {
	go task()
	return nil
}

// AsyncManager drives the async state machine of one request. The dispatcher
// reads its state after handler invocation; Await blocks the dispatching
// goroutine until the async work completes or times out.
type AsyncManager struct {
	mu             sync.Mutex
	state          AsyncState
	exec           Executor
	defaultTimeout time.Duration
	timeout        time.Duration
	done           chan struct{}
	result         AsyncResult
	deferred       *DeferredResult
	cancel         context.CancelFunc

	chain   *HandlerExecutionChain
	cleanup func()
}

// NewAsyncManager returns a manager running callables on exec. A nil exec
// starts a goroutine per task; a zero timeout waits indefinitely.
func NewAsyncManager(exec Executor, timeout time.Duration) *AsyncManager {
	if exec == nil {
		exec = goExecutor{}
	}
	return &AsyncManager{exec: exec, defaultTimeout: timeout}
}

// State returns the current state.
func (m *AsyncManager) State() AsyncState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// IsConcurrentHandlingStarted reports whether async work was started and not
// yet re-dispatched.
func (m *AsyncManager) IsConcurrentHandlingStarted() bool {
	s := m.State()
	return s == AsyncStarted || s == AsyncCompleted
}

func (m *AsyncManager) start(timeout time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == AsyncStarted || m.state == AsyncCompleted {
		return ErrAsyncStarted
	}
	m.state = AsyncStarted
	m.done = make(chan struct{})
	m.result = AsyncResult{}
	m.deferred = nil
	m.cancel = nil
	m.timeout = m.defaultTimeout
	if timeout > 0 {
		m.timeout = timeout
	}
	return nil
}

// StartCallable moves the request to Started and runs c on the executor.
// The callable's context is cancelled on timeout or re-dispatch.
func (m *AsyncManager) StartCallable(ctx context.Context, c Callable) error {
	if err := m.start(0); err != nil {
		return err
	}
	cctx, cancel := context.WithCancel(ctx)
	m.mu.Lock()
	m.cancel = cancel
	m.mu.Unlock()

	err := m.exec.Execute(ctx, func() {
		v, err := runCallable(cctx, c)
		m.complete(AsyncResult{Value: v, Err: err})
	})
	if err != nil {
		cancel()
		m.complete(AsyncResult{Err: fmt.Errorf("async executor: %w", err)})
	}
	return nil
}

func runCallable(ctx context.Context, c Callable) (v any, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = &HandlerPanicError{Value: p, Stack: debug.Stack()}
		}
	}()
	return c(ctx)
}

// StartDeferredResult moves the request to Started; the result arrives when
// some other goroutine calls d.SetResult or d.SetError.
func (m *AsyncManager) StartDeferredResult(d *DeferredResult) error {
	if err := m.start(d.timeout); err != nil {
		return err
	}
	m.mu.Lock()
	m.deferred = d
	m.mu.Unlock()
	d.bind(func(res AsyncResult) { m.complete(res) })
	return nil
}

func (m *AsyncManager) complete(res AsyncResult) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != AsyncStarted {
		return false
	}
	m.state = AsyncCompleted
	m.result = res
	close(m.done)
	return true
}

// Await blocks until the async work completes, the timeout elapses, or ctx
// ends, and returns the outcome. A timeout yields an *AsyncTimeoutError
// unless a DeferredResult supplied a timeout value.
func (m *AsyncManager) Await(ctx context.Context) AsyncResult {
	m.mu.Lock()
	done, timeout := m.done, m.timeout
	m.mu.Unlock()
	if done == nil {
		return AsyncResult{Err: errors.New("async processing was not started")}
	}

	var expired <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		expired = t.C
	}

	select {
	case <-done:
	case <-expired:
		m.expire(&AsyncTimeoutError{Timeout: timeout})
	case <-ctx.Done():
		m.expire(ctx.Err())
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.result
}

func (m *AsyncManager) expire(cause error) {
	m.mu.Lock()
	d, cancel := m.deferred, m.cancel
	m.mu.Unlock()

	res := AsyncResult{Err: cause}
	if d != nil {
		if tr, ok := d.expire(); ok && errors.Is(cause, ErrAsyncTimeout) {
			res = tr
		}
	}
	if cancel != nil {
		cancel()
	}
	m.complete(res)
}

// Bind stores the handler chain and the cleanup that the re-dispatch must
// finish once the async work completes.
func (m *AsyncManager) Bind(chain *HandlerExecutionChain, cleanup func()) {
	m.mu.Lock()
	m.chain = chain
	m.cleanup = cleanup
	m.mu.Unlock()
}

// Dispatch moves Completed to Dispatched and returns the bound chain and
// cleanup. It reports false when the state is not Completed.
func (m *AsyncManager) Dispatch() (*HandlerExecutionChain, func(), bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != AsyncCompleted {
		return nil, nil, false
	}
	m.state = AsyncDispatched
	if m.cancel != nil {
		m.cancel()
	}
	chain, cleanup := m.chain, m.cleanup
	m.chain, m.cleanup = nil, nil
	return chain, cleanup, true
}

// DeferredResult is a handler result set later from another goroutine.
type DeferredResult struct {
	mu           sync.Mutex
	timeout      time.Duration
	timeoutValue *AsyncResult
	result       *AsyncResult
	expired      bool
	handler      func(AsyncResult)
}

// NewDeferredResult returns a DeferredResult. A zero timeout uses the
// dispatcher default.
func NewDeferredResult(timeout time.Duration) *DeferredResult {
	return &DeferredResult{timeout: timeout}
}

// WithTimeoutValue sets the value used when the result times out instead of
// the timeout error.
func (d *DeferredResult) WithTimeoutValue(v any) *DeferredResult {
	d.mu.Lock()
	d.timeoutValue = &AsyncResult{Value: v}
	d.mu.Unlock()
	return d
}

// SetResult sets the value. It reports false if a result was already set or
// the deferred result expired.
func (d *DeferredResult) SetResult(v any) bool {
	return d.set(AsyncResult{Value: v})
}

// SetError sets a failure routed through exception resolution.
func (d *DeferredResult) SetError(err error) bool {
	return d.set(AsyncResult{Err: err})
}

// IsSetOrExpired reports whether the result can no longer be set.
func (d *DeferredResult) IsSetOrExpired() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.result != nil || d.expired
}

func (d *DeferredResult) set(res AsyncResult) bool {
	d.mu.Lock()
	if d.result != nil || d.expired {
		d.mu.Unlock()
		return false
	}
	d.result = &res
	h := d.handler
	d.mu.Unlock()
	if h != nil {
		h(res)
	}
	return true
}

func (d *DeferredResult) bind(h func(AsyncResult)) {
	d.mu.Lock()
	d.handler = h
	res := d.result
	d.mu.Unlock()
	if res != nil {
		h(*res)
	}
}

func (d *DeferredResult) expire() (AsyncResult, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.result != nil {
		return AsyncResult{}, false
	}
	d.expired = true
	if d.timeoutValue != nil {
		return *d.timeoutValue, true
	}
	return AsyncResult{}, false
}
