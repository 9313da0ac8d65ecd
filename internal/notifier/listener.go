package notifier

import (
	"context"

	"github.com/climate-tools/climate-scheduler/internal/coordinator"
	"github.com/climate-tools/climate-scheduler/pkg/pubsub"
)

// Listener subscribes to coordinator events and forwards them to the
// configured notifiers.
type Listener struct {
	Events    *pubsub.Publisher[coordinator.Event]
	Notifiers Notifier
}

func (l *Listener) Run(ctx context.Context) error {
	ch := l.Events.Subscribe()
	defer l.Events.Unsubscribe(ch)
	for {
		select {
		case <-ctx.Done():
			return nil
		case event := <-ch:
			l.Notifiers.Notify(event)
		}
	}
}
