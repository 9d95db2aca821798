package dispatch

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/technosupport/ts-anpr/internal/events"
)

// Publisher fans delivered events out over NATS for downstream
// consumers (alerting, analytics). Optional: the listener runs fine
// without a broker.
type Publisher struct {
	conn       *nats.Conn
	subject    string
	maxRetries int
}

func NewPublisher(conn *nats.Conn, subject string, maxRetries int) *Publisher {
	return &Publisher{
		conn:       conn,
		subject:    subject,
		maxRetries: maxRetries,
	}
}

func (p *Publisher) Publish(ev events.NormalizedEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal error: %w", err)
	}

	for i := 0; i <= p.maxRetries; i++ {
		err = p.conn.Publish(p.subject, data)
		if err == nil {
			return nil
		}
		time.Sleep(time.Duration(i*100) * time.Millisecond)
	}

	return fmt.Errorf("publish failed after %d retries: %w", p.maxRetries, err)
}
