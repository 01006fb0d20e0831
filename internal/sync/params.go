package sync

import (
	"sync"

	"mailsync/internal/model"
)

// ParamStream holds the most recently requested list parameters and
// broadcasts changes to subscribers. Each subscriber sees the latest
// value with a replay of one; intermediate values may be skipped when a
// subscriber lags (latest wins, this is a signal, not an event log).
type ParamStream struct {
	mu     sync.Mutex
	latest *model.GetListParams
	subs   []chan model.GetListParams
}

func NewParamStream() *ParamStream {
	return &ParamStream{}
}

// LoadMore replaces the current parameters and signals subscribers.
// Non-blocking: a slow subscriber's stale pending value is dropped in
// favour of the new one.
func (s *ParamStream) LoadMore(p model.GetListParams) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.latest = &p
	for _, ch := range s.subs {
		select {
		case <-ch:
		default:
		}
		ch <- p
	}
}

// Subscribe registers a new subscriber. The channel immediately carries
// the latest parameters, if any were published before subscribing.
func (s *ParamStream) Subscribe() <-chan model.GetListParams {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan model.GetListParams, 1)
	if s.latest != nil {
		ch <- *s.latest
	}
	s.subs = append(s.subs, ch)
	return ch
}

// Latest returns the current parameters, if any.
func (s *ParamStream) Latest() (model.GetListParams, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.latest == nil {
		return model.GetListParams{}, false
	}
	return *s.latest, true
}
