package render

import (
	"context"
	"encoding/xml"
	"fmt"
	"time"

	"github.com/gridwise/bundling"
)

// XMLRenderer renders a bundle as a market document envelope with one Series
// element per message. Message payloads are carried verbatim in CDATA.
type XMLRenderer struct{}

var _ bundling.DocumentRenderer = XMLRenderer{}

type cdataPayload struct {
	Data string `xml:",cdata"`
}

// Render implements bundling.DocumentRenderer.
func (XMLRenderer) Render(_ context.Context, bundle bundling.Bundle, messages []bundling.QueuedMessage) ([]byte, error) {
	doc := xmlEnvelope{
		MRID:            bundle.ID.String(),
		Category:        bundle.Key.Category,
		CreatedDateTime: bundle.ClosedAt.UTC().Format(time.RFC3339),
		ReceiverID:      bundle.Key.ActorNumber,
		ReceiverRole:    bundle.Key.ActorRole,
	}
	for _, msg := range messages {
		doc.Series = append(doc.Series, xmlSeriesEnvelope{
			MRID:           msg.ID.String(),
			DocumentType:   msg.DocumentType,
			BusinessReason: msg.BusinessReason,
			RelatedTo:      msg.RelatedToMessageID,
			Payload:        cdataPayload{Data: string(msg.Payload)},
		})
	}

	out, err := xml.MarshalIndent(doc, "", "\t")
	if err != nil {
		return nil, fmt.Errorf("render xml: %w", err)
	}

	return append([]byte(xml.Header), out...), nil
}

type xmlEnvelope struct {
	XMLName         xml.Name            `xml:"MarketDocument"`
	MRID            string              `xml:"mRID"`
	Category        string              `xml:"type"`
	CreatedDateTime string              `xml:"createdDateTime"`
	ReceiverID      string              `xml:"receiver_MarketParticipant.mRID"`
	ReceiverRole    string              `xml:"receiver_MarketParticipant.marketRole.type"`
	Series          []xmlSeriesEnvelope `xml:"Series"`
}

type xmlSeriesEnvelope struct {
	MRID           string       `xml:"mRID"`
	DocumentType   string       `xml:"documentType"`
	BusinessReason string       `xml:"businessReason,omitempty"`
	RelatedTo      string       `xml:"originalTransactionIDReference,omitempty"`
	Payload        cdataPayload `xml:"Payload"`
}
