package bundling

import "errors"

var (
	// ErrActorNumberRequired is returned when the receiver actor number is empty.
	ErrActorNumberRequired = errors.New("bundling actor number is required")
	// ErrActorRoleRequired is returned when the receiver market role is empty.
	ErrActorRoleRequired = errors.New("bundling actor role is required")
	// ErrCategoryRequired is returned when the message category is empty.
	ErrCategoryRequired = errors.New("bundling message category is required")
	// ErrFormatRequired is returned when the document format is empty.
	ErrFormatRequired = errors.New("bundling document format is required")
	// ErrDocumentTypeRequired is returned when OutgoingMessage.DocumentType is empty.
	ErrDocumentTypeRequired = errors.New("bundling document type is required")
	// ErrPayloadRequired is returned when OutgoingMessage.Payload is empty.
	ErrPayloadRequired = errors.New("bundling payload is required")
	// ErrInvalidPayload is returned when OutgoingMessage.Payload is not valid JSON.
	ErrInvalidPayload = errors.New("bundling payload must be valid JSON")
	// ErrInvalidDataPoints is returned when the data-point count is negative.
	ErrInvalidDataPoints = errors.New("bundling data-point count must be non-negative")
	// ErrInvalidID is returned when parsing or scanning an ID fails.
	ErrInvalidID = errors.New("bundling id is invalid")
	// ErrNothingReady signals that no bundle is ready for the requested key.
	// It is the normal "no content" outcome of Peek, not a failure.
	ErrNothingReady = errors.New("bundling has no ready bundle")
	// ErrBundleNotFound is returned when a bundle id is unknown or terminal.
	ErrBundleNotFound = errors.New("bundling bundle not found")
	// ErrDocumentNotFound is returned by a DocumentStore when no document
	// exists for the given bundle id.
	ErrDocumentNotFound = errors.New("bundling document not found")
	// ErrUnknownFormat is returned when no renderer is registered for a
	// bundle's document format.
	ErrUnknownFormat = errors.New("bundling document format has no renderer")
	// ErrPassPanic indicates a bundling pass panicked.
	ErrPassPanic = errors.New("bundling pass panic")
)
