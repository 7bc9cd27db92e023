package memory

import (
	"context"
	"sync"
	"time"

	"github.com/code-payments/receipt-validator/event"
	"github.com/code-payments/receipt-validator/iap"
)

const notifyTimeout = time.Second

// Publisher delivers validation events to in-process subscribers over an
// event.Bus and keeps a copy of everything it published.
type Publisher struct {
	bus *event.Bus[string, *iap.Event]

	mu        sync.Mutex
	published []*iap.Event
}

func NewPublisher() *Publisher {
	return &Publisher{
		bus: event.NewBus[string, *iap.Event](),
	}
}

func (p *Publisher) reset() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.published = nil
}

func (p *Publisher) Publish(ctx context.Context, e *iap.Event) error {
	p.mu.Lock()
	p.published = append(p.published, e.Clone())
	p.mu.Unlock()

	return p.bus.OnEvent(e.ReceiptID, e.Clone())
}

// Subscribe returns a stream of the events published from now on. Closing
// the stream ends the subscription.
func (p *Publisher) Subscribe(id string, bufferSize int) *event.ChannelStream[*iap.Event, *iap.Event] {
	var remove func()
	stream := event.NewChannelStream(id, bufferSize, func(e *iap.Event) (*iap.Event, bool) {
		return e.Clone(), true
	}, func() {
		remove()
	})

	remove = p.bus.AddHandler(event.HandlerFunc[string, *iap.Event](func(_ string, e *iap.Event) {
		_ = stream.Notify(e, notifyTimeout)
	}))

	return stream
}

// Subscribers returns the number of open subscriptions.
func (p *Publisher) Subscribers() int {
	return p.bus.Handlers()
}

func (p *Publisher) Published() []*iap.Event {
	p.mu.Lock()
	defer p.mu.Unlock()

	events := make([]*iap.Event, 0, len(p.published))
	for _, e := range p.published {
		events = append(events, e.Clone())
	}
	return events
}
