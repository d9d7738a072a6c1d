package importer

import "time"

// EventType identifies a progress event
type EventType string

const (
	EventCounterStarted EventType = "counter_started"
	EventTierWritten    EventType = "tier_written"
	EventTierSkipped    EventType = "tier_skipped"
	EventCounterDone    EventType = "counter_done"
	EventCounterFailed  EventType = "counter_failed"
)

// Event reports import progress
type Event struct {
	Type    EventType `json:"type"`
	Counter string    `json:"counter"`
	Tier    string    `json:"tier,omitempty"`
	Buckets int       `json:"buckets,omitempty"`
	Error   string    `json:"error,omitempty"`
	Time    time.Time `json:"time"`
}

// Observer receives events from every worker; implementations must be safe for concurrent use
type Observer interface {
	Observe(Event)
}

// ObserverFunc adapts a function to Observer
type ObserverFunc func(Event)

// Observe calls f(e)
func (f ObserverFunc) Observe(e Event) { f(e) }

// Observers fans an event out to several observers
type Observers []Observer

// Observe forwards e to each observer in order
func (obs Observers) Observe(e Event) {
	for _, o := range obs {
		o.Observe(e)
	}
}
