// server/store/postgres/listen.go
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/ViniZap4/tagkosha-server/store"
)

const (
	notesChannel = "tagkosha_notes"
	tagsChannel  = "tagkosha_tags"

	reconnectDelay = 5 * time.Second
)

func channelTopic(channel string) (store.Topic, bool) {
	switch channel {
	case notesChannel:
		return store.TopicNotes, true
	case tagsChannel:
		return store.TopicTags, true
	}
	return 0, false
}

// listenLoop keeps one connection LISTENing on both channels and forwards
// every notification to the hub. When the connection drops it reconnects
// and wakes every listener, since notifications sent in between are lost.
func (s *Store) listenLoop(ctx context.Context) {
	defer close(s.done)
	for {
		err := s.listen(ctx)
		if ctx.Err() != nil {
			return
		}
		s.log.Warn().Err(err).Dur("retry_in", reconnectDelay).Msg("notification listener lost, reconnecting")
		select {
		case <-ctx.Done():
			return
		case <-time.After(reconnectDelay):
		}
	}
}

func (s *Store) listen(ctx context.Context) error {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire listener connection: %w", err)
	}
	defer conn.Release()

	for _, ch := range []string{notesChannel, tagsChannel} {
		if _, err := conn.Exec(ctx, "LISTEN "+ch); err != nil {
			return fmt.Errorf("listen %s: %w", ch, err)
		}
	}
	s.log.Debug().Msg("notification listener connected")
	s.hub.BroadcastAll()

	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			// a cancelled wait leaves the connection unusable for the pool
			conn.Conn().Close(context.Background())
			return fmt.Errorf("wait for notification: %w", err)
		}
		topic, ok := channelTopic(n.Channel)
		if !ok {
			continue
		}
		s.hub.Broadcast(n.Payload, topic)
	}
}
