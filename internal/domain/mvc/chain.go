package mvc

import (
	"log/slog"
	"net/http"
)

// Interceptor hooks around handler invocation.
//
// PreHandle runs in registration order; returning false stops the chain and
// the interceptor is expected to have written the response. PostHandle and
// AfterCompletion run in reverse registration order.
type Interceptor interface {
	PreHandle(w http.ResponseWriter, r *http.Request, handler any) (bool, error)
	PostHandle(w http.ResponseWriter, r *http.Request, handler any, mv *ModelAndView) error
	AfterCompletion(w http.ResponseWriter, r *http.Request, handler any, err error) error
}

// AsyncInterceptor is implemented by interceptors that want to know when a
// handler suspended the request instead of completing it.
type AsyncInterceptor interface {
	AfterConcurrentHandlingStarted(w http.ResponseWriter, r *http.Request, handler any)
}

// InterceptorBase provides no-op hooks. Embed it to implement only the
// phases an interceptor cares about.
type InterceptorBase struct{}

// PreHandle continues the chain.
func (InterceptorBase) PreHandle(http.ResponseWriter, *http.Request, any) (bool, error) {
	return true, nil
}

// PostHandle does nothing.
func (InterceptorBase) PostHandle(http.ResponseWriter, *http.Request, any, *ModelAndView) error {
	return nil
}

// AfterCompletion does nothing.
func (InterceptorBase) AfterCompletion(http.ResponseWriter, *http.Request, any, error) error {
	return nil
}

// HandlerExecutionChain is a handler plus its ordered interceptors.
// The interceptor slice is never modified after construction; a chain is
// created per request and tracks how far PreHandle got.
type HandlerExecutionChain struct {
	handler      any
	interceptors []Interceptor

	// interceptorIndex is the index of the last interceptor whose PreHandle
	// returned true, or -1.
	interceptorIndex int
}

// NewHandlerExecutionChain builds a chain. Nil interceptors are ignored.
func NewHandlerExecutionChain(handler any, interceptors ...Interceptor) *HandlerExecutionChain {
	list := make([]Interceptor, 0, len(interceptors))
	for _, ic := range interceptors {
		if ic != nil {
			list = append(list, ic)
		}
	}
	return &HandlerExecutionChain{handler: handler, interceptors: list, interceptorIndex: -1}
}

// Handler returns the handler.
func (c *HandlerExecutionChain) Handler() any { return c.handler }

// Interceptors returns a copy of the interceptor list.
func (c *HandlerExecutionChain) Interceptors() []Interceptor {
	out := make([]Interceptor, len(c.interceptors))
	copy(out, c.interceptors)
	return out
}

// WithPrepended returns a new chain with extra interceptors placed first.
func (c *HandlerExecutionChain) WithPrepended(interceptors ...Interceptor) *HandlerExecutionChain {
	all := append(append([]Interceptor{}, interceptors...), c.interceptors...)
	return NewHandlerExecutionChain(c.handler, all...)
}

// ForEachForward calls fn for each interceptor in registration order until
// fn returns false.
func (c *HandlerExecutionChain) ForEachForward(fn func(i int, ic Interceptor) bool) {
	for i, ic := range c.interceptors {
		if !fn(i, ic) {
			return
		}
	}
}

// ForEachBackward calls fn for interceptors from index from down to 0.
func (c *HandlerExecutionChain) ForEachBackward(from int, fn func(i int, ic Interceptor)) {
	if from >= len(c.interceptors) {
		from = len(c.interceptors) - 1
	}
	for i := from; i >= 0; i-- {
		fn(i, c.interceptors[i])
	}
}

// ApplyPreHandle runs PreHandle forward. When an interceptor returns false,
// AfterCompletion is triggered for the ones that already passed and false is
// returned. An error stops the chain without triggering completion; the
// dispatcher does that once the error has been resolved.
func (c *HandlerExecutionChain) ApplyPreHandle(w http.ResponseWriter, r *http.Request) (bool, error) {
	proceed := true
	var err error
	c.ForEachForward(func(i int, ic Interceptor) bool {
		var ok bool
		ok, err = ic.PreHandle(w, r, c.handler)
		if err != nil {
			proceed = false
			return false
		}
		if !ok {
			c.TriggerAfterCompletion(w, r, nil)
			proceed = false
			return false
		}
		c.interceptorIndex = i
		return true
	})
	return proceed, err
}

// ApplyPostHandle runs PostHandle backward over all interceptors.
func (c *HandlerExecutionChain) ApplyPostHandle(w http.ResponseWriter, r *http.Request, mv *ModelAndView) error {
	var err error
	c.ForEachBackward(len(c.interceptors)-1, func(_ int, ic Interceptor) {
		if err != nil {
			return
		}
		err = ic.PostHandle(w, r, c.handler, mv)
	})
	return err
}

// TriggerAfterCompletion runs AfterCompletion backward for every interceptor
// whose PreHandle returned true. Errors and panics from AfterCompletion are
// logged, never returned, so the dispatch error is kept. The call is
// idempotent: a second call finds no passed interceptors.
func (c *HandlerExecutionChain) TriggerAfterCompletion(w http.ResponseWriter, r *http.Request, err error) {
	from := c.interceptorIndex
	c.interceptorIndex = -1
	c.ForEachBackward(from, func(_ int, ic Interceptor) {
		func() {
			defer func() {
				if v := recover(); v != nil {
					slog.Error("interceptor afterCompletion panicked", "panic", v)
				}
			}()
			if cerr := ic.AfterCompletion(w, r, c.handler, err); cerr != nil {
				slog.Error("interceptor afterCompletion failed", "error", cerr)
			}
		}()
	})
}

// ApplyAfterConcurrentHandlingStarted notifies async-aware interceptors,
// backward, that the request was suspended.
func (c *HandlerExecutionChain) ApplyAfterConcurrentHandlingStarted(w http.ResponseWriter, r *http.Request) {
	c.ForEachBackward(c.interceptorIndex, func(_ int, ic Interceptor) {
		if ai, ok := ic.(AsyncInterceptor); ok {
			ai.AfterConcurrentHandlingStarted(w, r, c.handler)
		}
	})
}
