package bundling

import (
	"encoding/json"
	"time"
)

// OutgoingMessage describes a new business message to be enqueued. The
// caller resolves receiver identity, category, and format before enqueueing.
type OutgoingMessage struct {
	// ID is optional, if zero, the store generator assigns a UUID v7.
	// Enqueueing the same id twice is a no-op, which makes Enqueue safe
	// against at-least-once redelivery from upstream processes.
	ID ID
	// Receiver is the delivery key the message is bundled under.
	Receiver Key
	// DocumentType names the business document this message contributes to
	// (e.g. "NotifyAggregatedMeasureData").
	DocumentType string
	// BusinessReason is the market process reason code (e.g. "D04").
	BusinessReason string
	// RelatedToMessageID optionally references the inbound message this one
	// responds to.
	RelatedToMessageID string
	// Payload is the serialized message content, stored as JSON.
	Payload json.RawMessage
	// DataPoints counts the observations the payload contributes to its
	// bundle (e.g. time-series points), used for the volume threshold.
	DataPoints int
}

// Validate checks required fields and JSON validity of the payload.
func (m OutgoingMessage) Validate() error {
	return ValidateMessage(m, true)
}

// ValidateMessage validates a message with optional JSON payload validation.
func ValidateMessage(msg OutgoingMessage, validateJSON bool) error {
	if err := msg.Receiver.Validate(); err != nil {
		return err
	}
	if msg.DocumentType == "" {
		return ErrDocumentTypeRequired
	}
	if len(msg.Payload) == 0 {
		return ErrPayloadRequired
	}
	if validateJSON && !json.Valid(msg.Payload) {
		return ErrInvalidPayload
	}
	if msg.DataPoints < 0 {
		return ErrInvalidDataPoints
	}

	return nil
}

// QueuedMessage is a stored message read back for rendering. Messages are
// immutable once enqueued and logically deleted when their bundle is
// dequeued.
type QueuedMessage struct {
	ID                 ID
	BundleID           ID
	Receiver           Key
	DocumentType       string
	BusinessReason     string
	RelatedToMessageID string
	Payload            json.RawMessage
	DataPoints         int
	CreatedAt          time.Time
}
