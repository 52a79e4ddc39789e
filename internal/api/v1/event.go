package v1

import (
	"fmt"
	"time"
)

// EventKind enumerates the interaction kinds the platform records.
type EventKind string

const (
	KindClick      EventKind = "click"
	KindTagAssign  EventKind = "tag_assign"
	KindImpression EventKind = "impression"
)

// SubjectType identifies what an event's SubjectID refers to.
type SubjectType string

const (
	SubjectArticle SubjectType = "article"
	SubjectTag     SubjectType = "tag"
)

// Event is the atomic interaction record: a click, a tag assignment, or an
// impression against an article or a tag. Events are immutable once written;
// everything downstream (rollups, graphs, trend flags) is recomputed from
// them rather than mutated incrementally.
type Event struct {
	// ID is the client-supplied idempotency key. The ingestion service
	// assigns a UUID when the client omits it.
	ID string `json:"id"`

	Kind EventKind `json:"kind"`

	// SubjectType + SubjectID name the article or tag the event is about.
	SubjectType SubjectType `json:"subject_type"`
	SubjectID   int64       `json:"subject_id"`

	// ActorRef is an opaque reference to whoever triggered the event
	// (e.g. "user:123", "ip:ab34..."). Optional.
	ActorRef string `json:"actor_ref,omitempty"`

	// Geo dimensions resolved by the click handler. Optional; events
	// without geo fold into the ("", "") rollup row.
	CountryCode string `json:"country_code,omitempty"`
	RegionCode  string `json:"region_code,omitempty"`

	// OccurredAt is the client-side event time; IngestedAt is when the
	// service accepted it.
	OccurredAt time.Time `json:"occurred_at"`
	IngestedAt time.Time `json:"ingested_at"`

	// IngestSeq is a monotonic sequence assigned by the database
	// (BIGSERIAL). Not exposed in the public API.
	IngestSeq int64 `json:"-"`
}

// Validate ensures the event envelope is well-formed.
func (e *Event) Validate() error {
	switch e.Kind {
	case KindClick, KindTagAssign, KindImpression:
	default:
		return fmt.Errorf("unsupported kind %q", e.Kind)
	}

	switch e.SubjectType {
	case SubjectArticle, SubjectTag:
	default:
		return fmt.Errorf("unsupported subject_type %q", e.SubjectType)
	}

	if e.SubjectID <= 0 {
		return fmt.Errorf("subject_id is required")
	}

	if e.OccurredAt.IsZero() {
		return fmt.Errorf("occurred_at is required")
	}

	if e.CountryCode == "" && e.RegionCode != "" {
		return fmt.Errorf("region_code requires country_code")
	}
	if len(e.CountryCode) > 2 {
		return fmt.Errorf("country_code must be an ISO 3166-1 alpha-2 code")
	}

	return nil
}
