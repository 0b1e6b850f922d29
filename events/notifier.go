package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/ksuid"

	"github.com/aquamarinepk/vstore/version"
)

// ChangeMessage is the wire form of a committed version.Event.
type ChangeMessage struct {
	ID         string           `json:"id"`
	Name       string           `json:"name"`
	OccurredAt time.Time        `json:"occurred_at"`
	VersionID  version.ID       `json:"version_id"`
	Scope      string           `json:"scope,omitempty"`
	Actor      string           `json:"actor,omitempty"`
	Changes    []version.Change `json:"changes"`
	Skipped    []string         `json:"skipped,omitempty"`
}

// Time returns the creation time embedded in the message id.
func (m ChangeMessage) Time() (time.Time, error) {
	id, err := ksuid.Parse(m.ID)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse message id: %w", err)
	}
	return id.Time(), nil
}

// DecodeChange parses a message written by ChangeNotifier.
func DecodeChange(data []byte) (ChangeMessage, error) {
	var msg ChangeMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return ChangeMessage{}, fmt.Errorf("decode change message: %w", err)
	}
	return msg, nil
}

// ChangeNotifier is a version.Notifier that publishes every event to one
// topic, keyed by version id when the publisher supports keys.
type ChangeNotifier struct {
	pub   Publisher
	topic string
	now   func() time.Time
}

func NewChangeNotifier(pub Publisher, topic string) *ChangeNotifier {
	return &ChangeNotifier{pub: pub, topic: topic, now: time.Now}
}

func (n *ChangeNotifier) Notify(ctx context.Context, ev version.Event) error {
	at := n.now().UTC()
	id, err := ksuid.NewRandomWithTime(at)
	if err != nil {
		return fmt.Errorf("message id: %w", err)
	}
	msg := ChangeMessage{
		ID:         id.String(),
		Name:       ev.Name,
		OccurredAt: at,
		VersionID:  ev.VersionID.Normalize(),
		Scope:      ev.ChangeSet.Context.Scope,
		Actor:      ev.ChangeSet.Context.Actor,
		Changes:    ev.ChangeSet.Changes,
		Skipped:    ev.ChangeSet.Skipped,
	}
	if msg.Changes == nil {
		msg.Changes = []version.Change{}
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode change message: %w", err)
	}

	if keyed, ok := n.pub.(KeyedPublisher); ok {
		return keyed.PublishKeyed(ctx, n.topic, []byte(msg.VersionID), data)
	}
	return n.pub.Publish(ctx, n.topic, data)
}
