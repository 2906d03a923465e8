package publisher

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jdziat/durable-retry-queue/pkg/core"
)

// Anchor types understood by the public highlights service.
const (
	AnchorEPUB = "epub"
	AnchorTXT  = "txt"
	AnchorPDF  = "pdf"
)

var (
	ErrMissingField      = errors.New("publisher: required field missing")
	ErrInvalidAnchorType = errors.New("publisher: anchor type must be epub, txt or pdf")
	ErrMissingSection    = errors.New("publisher: epub anchors need section id and normalized offsets")
	ErrInvalidRange      = errors.New("publisher: normEnd must not be before normStart")
)

// AnchorTypeFor derives the anchor type from an anchor string. Plain-text
// and PDF anchors carry a "txt:" or "pdf:" prefix; anything else is an EPUB CFI.
func AnchorTypeFor(anchor string) string {
	switch {
	case strings.HasPrefix(anchor, "txt:"):
		return AnchorTXT
	case strings.HasPrefix(anchor, "pdf:"):
		return AnchorPDF
	default:
		return AnchorEPUB
	}
}

// HighlightRequest is the payload of an upsert job.
type HighlightRequest struct {
	DeviceID   string  `json:"deviceId"`
	BookKey    string  `json:"bookKey"`
	AnchorType string  `json:"anchorType"`
	Anchor     string  `json:"anchor"`
	Quote      string  `json:"quote"`
	Style      string  `json:"style,omitempty"`
	Color      string  `json:"color,omitempty"`
	SectionID  *string `json:"sectionId"`
	NormStart  *int64  `json:"normStart"`
	NormEnd    *int64  `json:"normEnd"`
}

// Validate checks the request before it is queued.
func (r *HighlightRequest) Validate() error {
	if r.Quote == "" {
		return core.Invalid("quote", ErrMissingField)
	}
	return validateAnchor(r.DeviceID, r.BookKey, r.AnchorType, r.Anchor, r.SectionID, r.NormStart, r.NormEnd)
}

// EncodePayload validates r and renders it as payload_json.
func (r *HighlightRequest) EncodePayload() (string, error) {
	if err := r.Validate(); err != nil {
		return "", err
	}
	return encode(r)
}

// DeleteRequest is the payload of a delete job.
type DeleteRequest struct {
	DeviceID   string  `json:"deviceId"`
	BookKey    string  `json:"bookKey"`
	AnchorType string  `json:"anchorType"`
	Anchor     string  `json:"anchor"`
	SectionID  *string `json:"sectionId"`
	NormStart  *int64  `json:"normStart"`
	NormEnd    *int64  `json:"normEnd"`
}

// Validate checks the request before it is queued.
func (r *DeleteRequest) Validate() error {
	return validateAnchor(r.DeviceID, r.BookKey, r.AnchorType, r.Anchor, r.SectionID, r.NormStart, r.NormEnd)
}

// EncodePayload validates r and renders it as payload_json.
func (r *DeleteRequest) EncodePayload() (string, error) {
	if err := r.Validate(); err != nil {
		return "", err
	}
	return encode(r)
}

func validateAnchor(deviceID, bookKey, anchorType, anchor string, sectionID *string, start, end *int64) error {
	switch {
	case deviceID == "":
		return core.Invalid("deviceId", ErrMissingField)
	case bookKey == "":
		return core.Invalid("bookKey", ErrMissingField)
	case anchor == "":
		return core.Invalid("anchor", ErrMissingField)
	}

	switch anchorType {
	case AnchorEPUB:
		if sectionID == nil || *sectionID == "" || start == nil || end == nil {
			return core.Invalid("sectionId", ErrMissingSection)
		}
	case AnchorTXT, AnchorPDF:
	default:
		return core.Invalid("anchorType", ErrInvalidAnchorType)
	}

	if start != nil && end != nil && *end < *start {
		return core.Invalid("normEnd", ErrInvalidRange)
	}
	return nil
}

func encode(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("publisher: encode payload: %w", err)
	}
	return string(b), nil
}
