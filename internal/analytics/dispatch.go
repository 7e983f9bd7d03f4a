package analytics

import (
	"errors"
	"fmt"
)

// ErrFallbackNotLast is returned when a handler chain does not end with
// exactly one catch-all handler.
var ErrFallbackNotLast = errors.New("handler chain must end with a single fallback")

// Handler pairs a predicate with the computation applied to matching input.
// A nil Match marks the fallback.
type Handler[In, Out any] struct {
	Name   string
	Match  func(In) bool
	Handle func(In) Out
}

// Chain applies the first handler whose predicate matches.
type Chain[In, Out any] struct {
	handlers []Handler[In, Out]
}

// NewChain builds a chain from handlers ordered most specific first. The
// last handler must be the fallback and no other handler may be one.
func NewChain[In, Out any](handlers ...Handler[In, Out]) (*Chain[In, Out], error) {
	if len(handlers) == 0 {
		return nil, ErrFallbackNotLast
	}
	for i, h := range handlers {
		if h.Handle == nil {
			return nil, fmt.Errorf("handler %q has no Handle func", h.Name)
		}
		last := i == len(handlers)-1
		if last && h.Match != nil {
			return nil, fmt.Errorf("%w: last handler %q has a predicate", ErrFallbackNotLast, h.Name)
		}
		if !last && h.Match == nil {
			return nil, fmt.Errorf("%w: fallback %q registered at position %d", ErrFallbackNotLast, h.Name, i)
		}
	}
	return &Chain[In, Out]{handlers: handlers}, nil
}

// Dispatch runs in through the first matching handler and reports its name.
func (c *Chain[In, Out]) Dispatch(in In) (Out, string) {
	for _, h := range c.handlers {
		if h.Match == nil || h.Match(in) {
			return h.Handle(in), h.Name
		}
	}
	// unreachable: NewChain guarantees a fallback
	var zero Out
	return zero, ""
}

// Names lists the handlers in dispatch order.
func (c *Chain[In, Out]) Names() []string {
	out := make([]string, len(c.handlers))
	for i, h := range c.handlers {
		out[i] = h.Name
	}
	return out
}
