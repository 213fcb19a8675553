package es

import "context"

// SubscribeFilter restricts which envelopes a subscription receives. Empty
// fields match everything; set fields must all match.
type SubscribeFilter struct {
	AggregateID string
	EventType   string
}

type SubscribeOpts struct {
	filters    []SubscribeFilter
	bufferSize int
}

func (s *SubscribeOpts) Filters() []SubscribeFilter { return s.filters }
func (s *SubscribeOpts) BufferSize() int            { return s.bufferSize }

type SubscribeOption func(opts *SubscribeOpts)

func NewSubscribeOpts(opts ...SubscribeOption) SubscribeOpts {
	options := SubscribeOpts{
		bufferSize: 64,
	}
	for _, opt := range opts {
		opt(&options)
	}
	return options
}

// WithFilters keeps only envelopes matching all given filters.
func WithFilters(filters ...SubscribeFilter) SubscribeOption {
	return func(opts *SubscribeOpts) {
		opts.filters = filters
	}
}

// WithSubscribeBuffer sets the subscription channel capacity. A subscriber
// that falls further behind than the buffer loses events rather than
// blocking appends.
func WithSubscribeBuffer(size int) SubscribeOption {
	return func(opts *SubscribeOpts) {
		if size > 0 {
			opts.bufferSize = size
		}
	}
}

// Subscription delivers envelopes appended after Subscribe, in append order.
type Subscription interface {
	// Chan returns the delivery channel. It is closed on cancellation.
	Chan() <-chan Envelope
	// Cancel stops delivery and closes the channel. Safe to call twice.
	Cancel()
}

// Stream is implemented by logs that can push newly appended envelopes to
// in-process subscribers. It is an optional capability: durable logs may
// choose not to provide it.
type Stream interface {
	Subscribe(ctx context.Context, opts ...SubscribeOption) (Subscription, error)
}

func matchFilters(env Envelope, filters []SubscribeFilter) bool {
	for _, f := range filters {
		if !matchFilter(env, f) {
			return false
		}
	}
	return true
}

func matchFilter(env Envelope, filter SubscribeFilter) bool {
	if filter.AggregateID != "" && env.AggregateID != filter.AggregateID {
		return false
	}
	if filter.EventType != "" && env.Type != filter.EventType {
		return false
	}
	return true
}
