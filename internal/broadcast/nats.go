package broadcast

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"
)

const natsSubject = "chatbot.broadcast"

// NATSBridge feeds events published on a NATS subject into the local Hub,
// and Forward publishes an Event onto that subject. Hub.Publish does not
// call Forward, and nothing in the pipeline does, so locally published
// events reach other processes only where a caller forwards them.
type NATSBridge struct {
	conn *nats.Conn
	sub  *nats.Subscription
}

// NewNATSBridge connects to url and wires bidirectional propagation with hub.
func NewNATSBridge(url string, hub *Hub) (*NATSBridge, error) {
	conn, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("broadcast: connect nats: %w", err)
	}

	b := &NATSBridge{conn: conn}

	sub, err := conn.Subscribe(natsSubject, func(msg *nats.Msg) {
		var ev Event
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			slog.Warn("broadcast: dropping malformed nats event", "error", err)
			return
		}
		hub.Publish(ev)
	})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("broadcast: subscribe nats: %w", err)
	}
	b.sub = sub

	return b, nil
}

// Forward publishes ev to the shared NATS subject so other processes'
// Hubs deliver it to their own subscribers.
func (b *NATSBridge) Forward(ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("broadcast: marshal event: %w", err)
	}
	return b.conn.Publish(natsSubject, data)
}

// Close tears down the NATS subscription and connection.
func (b *NATSBridge) Close() error {
	if err := b.sub.Unsubscribe(); err != nil {
		return err
	}
	b.conn.Close()
	return nil
}
