// Package mvc holds the data model of the request dispatch pipeline:
// ModelAndView, HandlerExecutionChain, FlashMap, the per-request
// RequestContext, the async state machine and the dispatch error taxonomy.
//
// Types in this package carry no strategy logic. Resolution, invocation and
// rendering live in internal/service; the capability interfaces consumed by
// the dispatcher live in internal/port/strategy.
package mvc
