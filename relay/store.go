package relay

import (
	"context"
	"sync"

	"github.com/t1plarnd/simplicity-dex/errors"
	"github.com/t1plarnd/simplicity-dex/ulogger"
)

// Store is the relay surface the rest of the system talks to. Events
// are filtered by kind only; time, author and pagination filters are
// deliberately not part of this contract.
type Store interface {
	// Publish validates the event and appends it. Republishing an id
	// already held is a no-op, events are immutable.
	Publish(ctx context.Context, e *Event) error

	// Get returns the event with the given id.
	Get(ctx context.Context, id string) (*Event, error)

	// Query returns all held events of the given kind, oldest first.
	Query(ctx context.Context, kind uint16) ([]*Event, error)

	// Stream replays held events of the kind and then delivers new ones
	// until ctx is done. The returned channel closes on cancellation.
	Stream(ctx context.Context, kind uint16) (<-chan *Event, error)
}

// MemoryStore is the in-process relay used by tests and by single-node
// deployments. Network relay transport lives outside this core.
type MemoryStore struct {
	logger ulogger.Logger

	mu     sync.RWMutex
	events []*Event
	byID   map[string]*Event
	subs   []*subscription
}

type subscription struct {
	kind uint16
	ch   chan *Event
	done <-chan struct{}
}

func NewMemoryStore(logger ulogger.Logger) *MemoryStore {
	return &MemoryStore{
		logger: logger,
		byID:   make(map[string]*Event),
	}
}

func (s *MemoryStore) Publish(ctx context.Context, e *Event) error {
	if err := e.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byID[e.ID]; ok {
		return nil
	}

	s.events = append(s.events, e)
	s.byID[e.ID] = e

	s.logger.Debugf("relay: stored event %s kind %d", e.ID, e.Kind)

	for _, sub := range s.subs {
		if sub.kind != e.Kind {
			continue
		}

		select {
		case sub.ch <- e:
		case <-sub.done:
		default:
			// Slow subscriber, drop rather than block publishers.
			s.logger.Warnf("relay: dropping event %s for slow subscriber", e.ID)
		}
	}

	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.byID[id]
	if !ok {
		return nil, errors.NewNotFoundError("no event with id %s", id)
	}

	return e, nil
}

func (s *MemoryStore) Query(_ context.Context, kind uint16) ([]*Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*Event

	for _, e := range s.events {
		if e.Kind == kind {
			matched = append(matched, e)
		}
	}

	return matched, nil
}

func (s *MemoryStore) Stream(ctx context.Context, kind uint16) (<-chan *Event, error) {
	s.mu.Lock()

	backlog := make([]*Event, 0)

	for _, e := range s.events {
		if e.Kind == kind {
			backlog = append(backlog, e)
		}
	}

	sub := &subscription{
		kind: kind,
		ch:   make(chan *Event, 64+len(backlog)),
		done: ctx.Done(),
	}

	for _, e := range backlog {
		sub.ch <- e
	}

	s.subs = append(s.subs, sub)
	s.mu.Unlock()

	out := make(chan *Event)

	go func() {
		defer close(out)
		defer s.removeSub(sub)

		for {
			select {
			case <-ctx.Done():
				return
			case e := <-sub.ch:
				select {
				case out <- e:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

func (s *MemoryStore) removeSub(sub *subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, candidate := range s.subs {
		if candidate == sub {
			s.subs = append(s.subs[:i], s.subs[i+1:]...)
			return
		}
	}
}
