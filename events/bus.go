package events

import (
	"github.com/hannahhoward/go-pubsub"
	logging "github.com/ipfs/go-log/v2"
	"golang.org/x/xerrors"
)

var log = logging.Logger("golem/events")

// Subscriber receives every event published on a Bus.
type Subscriber func(Event)

// Unsubscribe removes a subscriber registered with Bus.Subscribe.
type Unsubscribe func()

// Bus fans events out to subscribers. A nil *Bus is valid and drops all
// events, so services can treat the event sink as optional.
type Bus struct {
	ps *pubsub.PubSub
}

func dispatcher(evt pubsub.Event, subscriberFn pubsub.SubscriberFn) error {
	e, ok := evt.(Event)
	if !ok {
		return xerrors.Errorf("wrong type of event")
	}
	cb, ok := subscriberFn.(Subscriber)
	if !ok {
		return xerrors.Errorf("wrong type of subscriber")
	}
	cb(e)
	return nil
}

func NewBus() *Bus {
	return &Bus{ps: pubsub.New(dispatcher)}
}

func (b *Bus) Subscribe(sub Subscriber) Unsubscribe {
	if b == nil {
		return func() {}
	}
	return Unsubscribe(b.ps.Subscribe(sub))
}

func (b *Bus) Publish(evt Event) {
	if b == nil {
		return
	}
	if err := b.ps.Publish(evt); err != nil {
		// Subscribers are in-process; errors here indicate a broken
		// subscriber, not a delivery failure we can act on.
		log.Errorf("publishing event %T: %s", evt, err)
	}
}
