package eventbus

import (
	"time"

	"github.com/google/uuid"
)

// Event is anything published on a bus.
type Event interface {
	Type() string
	Domain() string
	Payload() any
	Timestamp() time.Time
	CorrelationID() string
}

// Record is the general-purpose Event implementation.
type Record struct {
	eventType     string
	domain        string
	payload       any
	timestamp     time.Time
	correlationID string
}

// NewEvent builds an event stamped with the current time. An empty
// correlationID gets a fresh one.
func NewEvent(eventType, domain, correlationID string, payload any) *Record {
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	return &Record{
		eventType:     eventType,
		domain:        domain,
		payload:       payload,
		timestamp:     time.Now(),
		correlationID: correlationID,
	}
}

func (e *Record) Type() string          { return e.eventType }
func (e *Record) Domain() string        { return e.domain }
func (e *Record) Payload() any          { return e.payload }
func (e *Record) Timestamp() time.Time  { return e.timestamp }
func (e *Record) CorrelationID() string { return e.correlationID }

var _ Event = (*Record)(nil)
