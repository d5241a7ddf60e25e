package transfer

import "fmt"

// Severity classifies an Event for display.
type Severity string

// Event severities.
const (
	SeverityInfo    Severity = "info"
	SeveritySuccess Severity = "success"
	SeverityError   Severity = "error"
)

// Event is one progress or result message emitted by a batch.
type Event struct {
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
}

// Observer receives batch events. OnProgress may be called concurrently from
// several workers; OnComplete is called once, after every item has settled.
type Observer interface {
	OnProgress(Event)
	OnComplete(Event)
}

// ObserverFunc adapts a single function to both Observer methods.
type ObserverFunc func(Event)

// OnProgress calls f.
func (f ObserverFunc) OnProgress(e Event) { f(e) }

// OnComplete calls f.
func (f ObserverFunc) OnComplete(e Event) { f(e) }

type nopObserver struct{}

func (nopObserver) OnProgress(Event) {}
func (nopObserver) OnComplete(Event) {}

func observerOrNop(o Observer) Observer {
	if o == nil {
		return nopObserver{}
	}
	return o
}

func infof(format string, args ...interface{}) Event {
	return Event{Message: fmt.Sprintf(format, args...), Severity: SeverityInfo}
}

func errorf(format string, args ...interface{}) Event {
	return Event{Message: fmt.Sprintf(format, args...), Severity: SeverityError}
}
