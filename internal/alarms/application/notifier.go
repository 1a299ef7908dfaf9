package application

import (
	"context"

	alarms "github.com/Viniciusjohn/cnc-telemetry/internal/alarms/domain"
)

// FiringNotifier publishes firings to in-process listeners.
type FiringNotifier interface {
	Notify(ctx context.Context, firing alarms.Firing)
}

// MultiNotifier forwards firings to multiple notifiers.
type MultiNotifier struct {
	notifiers []FiringNotifier
}

// NewMultiNotifier constructs a MultiNotifier.
func NewMultiNotifier(notifiers ...FiringNotifier) *MultiNotifier {
	return &MultiNotifier{notifiers: notifiers}
}

// Notify forwards the firing to all notifiers.
func (m *MultiNotifier) Notify(ctx context.Context, firing alarms.Firing) {
	if m == nil {
		return
	}
	for _, notifier := range m.notifiers {
		if notifier != nil {
			notifier.Notify(ctx, firing)
		}
	}
}
