package service

import (
	"log/slog"

	"github.com/raphaelgruber/lorekeeper/internal/models"
)

// Observer receives scan progress events. Delivery is best-effort: an
// observer must not block and has no way to fail a scan.
type Observer interface {
	Publish(event models.ProgressEvent)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(models.ProgressEvent)

// Publish calls f.
func (f ObserverFunc) Publish(event models.ProgressEvent) {
	f(event)
}

// multiObserver fans one event out to several observers. A panicking
// observer is logged and does not stop delivery to the others.
type multiObserver []Observer

func (m multiObserver) Publish(event models.ProgressEvent) {
	for _, o := range m {
		if o != nil {
			publishSafe(o, event)
		}
	}
}

func publishSafe(o Observer, event models.ProgressEvent) {
	defer func() {
		if r := recover(); r != nil {
			slog.Warn("progress observer panicked", "event", event.Type, "panic", r)
		}
	}()
	o.Publish(event)
}
