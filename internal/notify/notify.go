// Package notify delivers user-visible notifications from the sync
// engine to the presentation layer.
package notify

import (
	"time"

	"github.com/joselitz123/budget-planner/internal/logging"
)

// Severity grades a notification.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Notifier is the user-notification sink consumed by the sync engine.
type Notifier interface {
	Notify(message string, severity Severity, duration time.Duration)
}

// LogNotifier writes notifications to the structured log. Used when no
// UI is attached.
type LogNotifier struct{}

// Notify implements Notifier.
func (LogNotifier) Notify(message string, severity Severity, duration time.Duration) {
	fields := logging.Fields{"severity": severity, "duration_ms": duration.Milliseconds()}
	switch severity {
	case SeverityError:
		logging.Error("User notification", nil, mergeMessage(fields, message))
	case SeverityWarning:
		logging.Warn("User notification", mergeMessage(fields, message))
	default:
		logging.Info("User notification", mergeMessage(fields, message))
	}
}

func mergeMessage(fields logging.Fields, message string) logging.Fields {
	fields["message"] = message
	return fields
}

// Multi fans a notification out to several sinks.
type Multi []Notifier

// Notify implements Notifier.
func (m Multi) Notify(message string, severity Severity, duration time.Duration) {
	for _, n := range m {
		n.Notify(message, severity, duration)
	}
}
