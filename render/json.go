package render

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gridwise/bundling"
)

// JSONRenderer renders a bundle as a JSON market document with one series
// entry per message. Payloads are embedded as raw JSON.
type JSONRenderer struct{}

var _ bundling.DocumentRenderer = JSONRenderer{}

type jsonEnvelope struct {
	MRID            string       `json:"mRID"`
	Category        string       `json:"type"`
	CreatedDateTime string       `json:"createdDateTime"`
	Receiver        jsonReceiver `json:"receiver"`
	Series          []jsonSeries `json:"series"`
}

type jsonReceiver struct {
	MRID string `json:"mRID"`
	Role string `json:"marketRole"`
}

type jsonSeries struct {
	MRID           string          `json:"mRID"`
	DocumentType   string          `json:"documentType"`
	BusinessReason string          `json:"businessReason,omitempty"`
	RelatedTo      string          `json:"originalTransactionIdReference,omitempty"`
	Payload        json.RawMessage `json:"payload"`
}

// Render implements bundling.DocumentRenderer.
func (JSONRenderer) Render(_ context.Context, bundle bundling.Bundle, messages []bundling.QueuedMessage) ([]byte, error) {
	doc := jsonEnvelope{
		MRID:            bundle.ID.String(),
		Category:        bundle.Key.Category,
		CreatedDateTime: bundle.ClosedAt.UTC().Format(time.RFC3339),
		Receiver: jsonReceiver{
			MRID: bundle.Key.ActorNumber,
			Role: bundle.Key.ActorRole,
		},
		Series: make([]jsonSeries, 0, len(messages)),
	}
	for _, msg := range messages {
		doc.Series = append(doc.Series, jsonSeries{
			MRID:           msg.ID.String(),
			DocumentType:   msg.DocumentType,
			BusinessReason: msg.BusinessReason,
			RelatedTo:      msg.RelatedToMessageID,
			Payload:        msg.Payload,
		})
	}

	out, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("render json: %w", err)
	}

	return out, nil
}
