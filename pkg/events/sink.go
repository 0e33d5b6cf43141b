package events

import (
	"encoding/json"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/rs/zerolog/log"
)

// EventSink is the delivery mechanism below an output stream. PublishEvent
// returns once the event has been accepted, whatever that means for the
// underlying transport.
type EventSink interface {
	PublishEvent(event *Event) error
}

// NullSink accepts and discards every event.
type NullSink struct{}

func NewNullSink() *NullSink {
	return &NullSink{}
}

func (n *NullSink) PublishEvent(*Event) error {
	return nil
}

var _ EventSink = (*NullSink)(nil)

// WatermillSink publishes events as JSON watermill messages on one topic.
// Combined with a gochannel pubsub configured with
// BlockPublishUntilSubscriberAck, PublishEvent blocks until every subscriber
// acked the message.
type WatermillSink struct {
	publisher message.Publisher
	topic     string
}

func NewWatermillSink(publisher message.Publisher, topic string) *WatermillSink {
	return &WatermillSink{
		publisher: publisher,
		topic:     topic,
	}
}

func (w *WatermillSink) PublishEvent(event *Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set("event_type", string(event.Type))
	msg.Metadata.Set("invocation_id", event.Metadata.InvocationID)
	msg.Metadata.Set("identity", event.Metadata.Identity)

	if err := w.publisher.Publish(w.topic, msg); err != nil {
		return err
	}

	log.Trace().
		Str("topic", w.topic).
		Str("event_type", string(event.Type)).
		Str("invocation_id", event.Metadata.InvocationID).
		Msg("Published event")
	return nil
}

var _ EventSink = (*WatermillSink)(nil)

// CollectingSink keeps every event in memory, it is used by tests and by the
// CLI when it wants to replay what a processor wrote.
type CollectingSink struct {
	mu     sync.Mutex
	events []*Event
}

func NewCollectingSink() *CollectingSink {
	return &CollectingSink{}
}

func (c *CollectingSink) PublishEvent(event *Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	return nil
}

func (c *CollectingSink) Events() []*Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	ret := make([]*Event, len(c.events))
	copy(ret, c.events)
	return ret
}

// OfType filters the collected events.
func (c *CollectingSink) OfType(t EventType) []*Event {
	var ret []*Event
	for _, e := range c.Events() {
		if e.Type == t {
			ret = append(ret, e)
		}
	}
	return ret
}

var _ EventSink = (*CollectingSink)(nil)

// MultiSink fans an event out to several sinks, failing on the first error.
type MultiSink []EventSink

func (m MultiSink) PublishEvent(event *Event) error {
	for _, s := range m {
		if err := s.PublishEvent(event); err != nil {
			return err
		}
	}
	return nil
}

var _ EventSink = MultiSink(nil)
