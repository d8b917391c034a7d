// Package harvest defines the domain types shared by the storefront harvester subsystems.
package harvest

import (
	"fmt"
	"time"
)

// Entry is one catalog item known to the store. Entries are written by catalog sync only.
type Entry struct {
	ID   int64  `json:"appid"`
	Name string `json:"name"`
}

// PageState classifies a loaded entry page before extraction.
type PageState string

// Page states returned by the gate handler.
const (
	StateExtractable      PageState = "extractable"
	StateNotFound         PageState = "not_found"
	StateRegionLocked     PageState = "region_locked"
	StateInfiniteRedirect PageState = "infinite_redirect"
	StateVideoOnly        PageState = "video_only"
	StateSoftwareOnly     PageState = "software_only"
	StateSeriesOnly       PageState = "series_only"
)

// EntityKind names one family of normalized multi-valued attributes.
type EntityKind string

// Entity kinds persisted in their own description tables.
const (
	KindTag    EntityKind = "tag"
	KindDetail EntityKind = "detail"
	KindGenre  EntityKind = "genre"
)

// EntityKinds lists every kind in link insertion order.
var EntityKinds = []EntityKind{KindTag, KindDetail, KindGenre}

// Valid reports whether k is a known kind.
func (k EntityKind) Valid() bool {
	switch k {
	case KindTag, KindDetail, KindGenre:
		return true
	default:
		return false
	}
}

// Scalars holds every single-valued field of a snapshot. A nil pointer means the field was absent.
type Scalars struct {
	Name             *string
	ShortDescription *string
	LongDescription  *string
	IsDLC            *bool

	RecentReviewPercent *int
	RecentReviewCount   *int
	AllReviewPercent    *int
	AllReviewCount      *int

	// ReleaseDate is set when a date could be parsed. ReleasePending is true when the store
	// lists the entry as coming soon without a date.
	ReleaseDate    *time.Time
	ReleasePending *bool

	Title     *string
	Developer *string
	Publisher *string

	Achievements *int
	Metacritic   *int

	// PriceCents is zero for confirmed free entries. PriceUnknown marks third-party pricing.
	PriceCents   *int64
	PriceUnknown *bool
}

// Snapshot is one immutable capture of an entry's scalar fields.
type Snapshot struct {
	EntryID    int64
	CapturedAt time.Time
	Scalars
}

// Link associates a snapshot with one normalized entity.
type Link struct {
	Kind       EntityKind
	EntryID    int64
	CapturedAt time.Time
	EntityID   int64
}

// Step names the stage of per-entry work in which a failure originated.
type Step string

// Steps of per-entry work.
const (
	StepNavigation  Step = "navigation"
	StepExtraction  Step = "extraction"
	StepPersistence Step = "persistence"
)

// EntryError is a per-entry failure tagged with the step that produced it.
type EntryError struct {
	EntryID int64
	Step    Step
	Err     error
}

func (e *EntryError) Error() string {
	return fmt.Sprintf("entry %d failed during %s: %v", e.EntryID, e.Step, e.Err)
}

func (e *EntryError) Unwrap() error { return e.Err }

// Failure is the persisted form of an EntryError.
type Failure struct {
	RunID    string
	EntryID  int64
	Step     Step
	Cause    string
	FailedAt time.Time
}
