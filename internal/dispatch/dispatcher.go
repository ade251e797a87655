package dispatch

import (
	"context"
	"errors"
	"io"
	"log"
	"time"

	"github.com/CloudBedrock/cribops-agent-bridge/internal/event"
	"github.com/CloudBedrock/cribops-agent-bridge/internal/subscribers"
)

type Dispatcher struct {
	logger       *log.Logger
	subscribers  []subscribers.Subscriber
	retryCount   int
	retryBackoff time.Duration
}

func New(logger *log.Logger, subs []subscribers.Subscriber) *Dispatcher {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Dispatcher{
		logger:       logger,
		subscribers:  subs,
		retryCount:   3,
		retryBackoff: 150 * time.Millisecond,
	}
}

// EmitEvent hands one canonical event to every subscriber. Delivery is
// asynchronous with bounded retries; acceptance means the event has
// entered the workflow boundary.
func (d *Dispatcher) EmitEvent(ctx context.Context, ev event.CanonicalEvent) error {
	if ev.EventID == "" {
		return errors.New("event id is required")
	}
	for _, sub := range d.subscribers {
		s := sub
		go d.dispatchOne(ctx, s, ev)
	}
	return nil
}

func (d *Dispatcher) dispatchOne(ctx context.Context, sub subscribers.Subscriber, ev event.CanonicalEvent) {
	for attempt := 1; attempt <= d.retryCount; attempt++ {
		err := sub.Handle(ctx, ev)
		if err == nil {
			return
		}

		d.logger.Printf("subscriber=%s event_id=%s attempt=%d err=%v", sub.Name(), ev.EventID, attempt, err)
		if attempt == d.retryCount {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(d.retryBackoff):
		}
	}
}
