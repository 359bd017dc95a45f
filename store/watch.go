// server/store/watch.go
package store

import (
	"context"

	"github.com/ViniZap4/tagkosha-server/domain"
)

// Subscription is a live query. Every delivery is the full current result;
// a load error is delivered once and ends the subscription.
type Subscription struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Close stops deliveries and releases the listener. After Close returns no
// further deliveries happen. It must not be called from the delivery
// callback of the same subscription.
func (s *Subscription) Close() {
	s.cancel()
	<-s.done
}

// Watch runs load once immediately and again after every change signalled by
// l, handing each result to deliver. It owns l and closes it on exit.
func Watch[T any](ctx context.Context, l Listener, load func(context.Context) (T, error), deliver func(T, error)) *Subscription {
	ctx, cancel := context.WithCancel(ctx)
	sub := &Subscription{cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(sub.done)
		defer l.Close()
		for {
			v, err := load(ctx)
			if ctx.Err() != nil {
				return
			}
			if err != nil {
				var zero T
				deliver(zero, err)
				return
			}
			deliver(v, nil)

			select {
			case <-ctx.Done():
				return
			case <-l.Changes():
			}
		}
	}()
	return sub
}

// WatchNotes subscribes to the result set of q.
func WatchNotes(ctx context.Context, s Store, q NoteQuery, fn func([]*domain.Note, error)) (*Subscription, error) {
	l, err := s.Listen(q.OwnerID, TopicNotes)
	if err != nil {
		return nil, err
	}
	load := func(ctx context.Context) ([]*domain.Note, error) { return s.QueryNotes(ctx, q) }
	return Watch(ctx, l, load, fn), nil
}

// WatchCounters subscribes to every counter of an owner, sorted by tag name.
func WatchCounters(ctx context.Context, s Store, ownerID string, fn func([]*domain.TagCounter, error)) (*Subscription, error) {
	l, err := s.Listen(ownerID, TopicTags)
	if err != nil {
		return nil, err
	}
	load := func(ctx context.Context) ([]*domain.TagCounter, error) { return s.ListCounters(ctx, ownerID) }
	return Watch(ctx, l, load, fn), nil
}
