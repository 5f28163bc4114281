package domain

import (
	"strings"
	"time"
)

type RequestKind string

const (
	KindInvoke         RequestKind = "invoke"
	KindInvokeStream   RequestKind = "invoke-stream"
	KindConverse       RequestKind = "converse"
	KindConverseStream RequestKind = "converse-stream"
)

// ParseRequestKind accepts the canonical names case-insensitively. An empty
// kind is a plain invoke.
func ParseRequestKind(raw string) (RequestKind, bool) {
	switch RequestKind(strings.ToLower(strings.TrimSpace(raw))) {
	case "", KindInvoke:
		return KindInvoke, true
	case KindInvokeStream:
		return KindInvokeStream, true
	case KindConverse:
		return KindConverse, true
	case KindConverseStream:
		return KindConverseStream, true
	default:
		return "", false
	}
}

// Event is the inbound usage event as delivered by the event source.
type Event struct {
	IdentityRef    string    `json:"identity"`
	GroupRef       string    `json:"group"`
	Kind           string    `json:"kind"`
	Timestamp      time.Time `json:"timestamp"`
	ResourceID     string    `json:"resource_id"`
	QuantityIn     int64     `json:"quantity_in"`
	QuantityOut    int64     `json:"quantity_out"`
	Region         string    `json:"region"`
	SourceIP       string    `json:"source_ip"`
	UserAgent      string    `json:"user_agent"`
	CorrelationID  string    `json:"correlation_id"`
	StatusCode     int       `json:"status_code"`
	ErrorMessage   string    `json:"error_message"`
	ResponseTimeMs int64     `json:"response_time_ms"`
}

const UnknownRef = "unknown"

// Unresolvable reports events that cannot be attributed to anyone.
func (e Event) Unresolvable() bool {
	return strings.EqualFold(strings.TrimSpace(e.IdentityRef), UnknownRef) &&
		strings.EqualFold(strings.TrimSpace(e.GroupRef), UnknownRef)
}

type RejectReason string

const (
	RejectUnresolvableIdentity RejectReason = "unresolvable_identity"
	RejectMissingIdentity      RejectReason = "missing_identity"
	RejectInvalidKind          RejectReason = "invalid_kind"
	RejectInvalidQuantity      RejectReason = "invalid_quantity"
	RejectMissingTimestamp     RejectReason = "missing_timestamp"
	RejectMissingResource      RejectReason = "missing_resource"
)

// IngestResult is returned for every event that did not fail on the store.
type IngestResult struct {
	Accepted       bool         `json:"accepted"`
	RejectedReason RejectReason `json:"rejected_reason,omitempty"`
	Record         *UsageEvent  `json:"record,omitempty"`
}

// Filtered is true for events dropped as non-attributable traffic.
func (r IngestResult) Filtered() bool {
	return !r.Accepted && r.RejectedReason == RejectUnresolvableIdentity
}

func Rejected(reason RejectReason) IngestResult {
	return IngestResult{Accepted: false, RejectedReason: reason}
}
