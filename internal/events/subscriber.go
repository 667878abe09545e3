package events

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nats-io/nats.go"
)

// changeBuffer is how many undelivered changes a subscription holds
// before new ones are dropped.
const changeBuffer = 64

// NATSSubscriber receives resource changes from NATS.
type NATSSubscriber struct {
	conn *nats.Conn
}

// NewNATSSubscriber connects to url. Extra options such as disconnect and
// reconnect handlers are applied after the defaults.
func NewNATSSubscriber(url string, opts ...nats.Option) (*NATSSubscriber, error) {
	nc, err := connect(url, "qvarn-subscriber", opts...)
	if err != nil {
		return nil, err
	}
	return &NATSSubscriber{conn: nc}, nil
}

// Changes delivers the decoded changes published on topic, which may use
// NATS wildcards (AllChanges, TypeSubjects). Payloads that are not
// changes are logged and skipped; when the reader falls behind, changes
// are dropped rather than blocking the connection. cancel unsubscribes
// and closes the channel; calling it more than once is safe.
func (s *NATSSubscriber) Changes(topic string) (<-chan ResourceChanged, func(), error) {
	ch := make(chan ResourceChanged, changeBuffer)

	var (
		mu     sync.Mutex
		closed bool
		once   sync.Once
	)

	sub, err := s.conn.Subscribe(topic, func(msg *nats.Msg) {
		var c ResourceChanged
		if err := json.Unmarshal(msg.Data, &c); err != nil || c.Type == "" {
			slog.Warn("skipping malformed change", "subject", msg.Subject, "err", err)
			return
		}
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		select {
		case ch <- c:
		default:
			slog.Warn("change dropped, subscriber is behind", "subject", msg.Subject)
		}
	})
	if err != nil {
		return nil, nil, fmt.Errorf("subscribing to %s: %w", topic, err)
	}
	// The subscription must reach the server before we return, or changes
	// published right after on other connections are missed.
	if err := s.conn.Flush(); err != nil {
		_ = sub.Unsubscribe()
		return nil, nil, fmt.Errorf("flushing subscription: %w", err)
	}

	cancel := func() {
		once.Do(func() {
			_ = sub.Unsubscribe()
			mu.Lock()
			closed = true
			close(ch)
			mu.Unlock()
		})
	}
	return ch, cancel, nil
}

func (s *NATSSubscriber) Close() error {
	s.conn.Close()
	return nil
}
