package subscribers

import (
	"context"

	"github.com/CloudBedrock/cribops-agent-bridge/internal/event"
)

type Subscriber interface {
	Name() string
	Handle(ctx context.Context, ev event.CanonicalEvent) error
}
