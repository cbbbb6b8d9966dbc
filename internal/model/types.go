// Package model holds the shared domain records for the fieldroute service.
package model

import "time"

// FlexibilityClass constrains how freely the optimizer may move a job.
type FlexibilityClass string

const (
	FlexFlexible       FlexibilityClass = "flexible"
	FlexTimeRestricted FlexibilityClass = "timeRestricted"
	FlexLocked         FlexibilityClass = "locked"
)

// HalfDaySlot is the half-day commitment of a timeRestricted job.
type HalfDaySlot string

const (
	SlotMorning   HalfDaySlot = "morning"
	SlotAfternoon HalfDaySlot = "afternoon"
)

// JobOrigin discriminates the two job record variants.
type JobOrigin string

const (
	OriginInternal JobOrigin = "internal"
	OriginExternal JobOrigin = "external"
)

// Job is a persisted, schedulable piece of work. It is a tagged union on
// Origin: internal jobs carry QuoteID/PriceCents, external jobs carry
// SourceSystem/ExternalRef, and each variant leaves the other's fields empty.
type Job struct {
	ID              string           `json:"id"`
	ContractorID    string           `json:"contractorId"`
	Origin          JobOrigin        `json:"origin"`
	ClientName      string           `json:"clientName,omitempty"`
	Day             string           `json:"day"`   // YYYY-MM-DD
	Start           string           `json:"start"` // HH:MM
	DurationMinutes int              `json:"durationMinutes"`
	Flexibility     FlexibilityClass `json:"flexibility"`
	Locked          bool             `json:"lockedForOptimization"`
	AddressKey      string           `json:"addressKey"`

	// Audit fields written when the optimizer moves the job.
	OriginalDay   string `json:"originalDay,omitempty"`
	OriginalStart string `json:"originalStart,omitempty"`

	// origin == internal
	QuoteID    string `json:"quoteId,omitempty"`
	PriceCents int    `json:"priceCents,omitempty"`

	// origin == external
	SourceSystem string `json:"sourceSystem,omitempty"`
	ExternalRef  string `json:"externalRef,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Stop is the per-run view of a job the optimizer works on. Stops are
// derived fresh for every run and discarded with it.
type Stop struct {
	ID              string
	Day             string
	Start           int // minutes since midnight
	DurationMinutes int
	Flexibility     FlexibilityClass
	Locked          bool
	AddressKey      string
	Slot            HalfDaySlot
}

// StopFromJob derives the run-scoped stop view. The half-day slot is
// determined against the working-day midpoint.
func StopFromJob(j Job, midpoint int) (Stop, error) {
	start, err := ParseClock(j.Start)
	if err != nil {
		return Stop{}, err
	}
	slot := SlotMorning
	if start >= midpoint {
		slot = SlotAfternoon
	}
	return Stop{
		ID:              j.ID,
		Day:             j.Day,
		Start:           start,
		DurationMinutes: j.DurationMinutes,
		Flexibility:     j.Flexibility,
		Locked:          j.Locked || j.Flexibility == FlexLocked,
		AddressKey:      j.AddressKey,
		Slot:            slot,
	}, nil
}

// RunStatus is the lifecycle state of an OptimizationRun audit row.
type RunStatus string

const (
	RunApplied         RunStatus = "applied"
	RunPendingApproval RunStatus = "pendingApproval"
	RunPotential       RunStatus = "potential"
	RunDismissed       RunStatus = "dismissed"
)

// OptimizationRun is the immutable audit record of one tier result. Rows are
// never updated: approving or dismissing a proposal inserts a new row whose
// ParentRunID points at the proposal it resolves.
type OptimizationRun struct {
	ID           string    `json:"id"`
	ContractorID string    `json:"contractorId"`
	Date         string    `json:"date"`
	Tier         int       `json:"tier"`
	MinutesSaved int       `json:"minutesSaved"`
	Status       RunStatus `json:"status"`
	ParentRunID  string    `json:"parentRunId,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

// SuggestedChange is one proposed slot move awaiting approval. Only the
// restricted-slot tier produces these.
type SuggestedChange struct {
	ID               string      `json:"id"`
	RunID            string      `json:"runId"`
	JobID            string      `json:"jobId"`
	CurrentDay       string      `json:"currentDay"`
	CurrentSlot      HalfDaySlot `json:"currentSlot"`
	SuggestedDay     string      `json:"suggestedDay"`
	SuggestedSlot    HalfDaySlot `json:"suggestedSlot"`
	RequiresApproval bool        `json:"requiresApproval"`
}

// ScheduleChange is one staged schedule mutation. Tiers compute these in
// memory; the store commits a batch atomically.
type ScheduleChange struct {
	JobID         string `json:"jobId"`
	Day           string `json:"day"`
	Start         string `json:"start"`
	OriginalDay   string `json:"originalDay"`
	OriginalStart string `json:"originalStart"`
}

// Contractor owns jobs and receives optimizer output.
type Contractor struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	Active           bool   `json:"active"`
	SubscriptionTier string `json:"subscriptionTier"`
	// Optional per-contractor working-hours override (HH:MM); empty means
	// the configured default window applies.
	WorkingDayStart string    `json:"workingDayStart,omitempty"`
	WorkingDayEnd   string    `json:"workingDayEnd,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
}

// NotificationKind classifies contractor-facing messages.
type NotificationKind string

const (
	NotifyPendingApproval  NotificationKind = "pendingApproval"
	NotifyPotentialSavings NotificationKind = "potentialSavings"
	NotifyApplied          NotificationKind = "applied"
	NotifyDismissed        NotificationKind = "dismissed"
)

// Notification is a persisted human-readable message for a contractor.
type Notification struct {
	ID           string           `json:"id"`
	ContractorID string           `json:"contractorId"`
	Kind         NotificationKind `json:"kind"`
	Message      string           `json:"message"`
	RunID        string           `json:"runId,omitempty"`
	CreatedAt    time.Time        `json:"createdAt"`
}

// WebhookSubscription registers an endpoint for notification events.
type WebhookSubscription struct {
	ID           string    `json:"id"`
	ContractorID string    `json:"contractorId"`
	URL          string    `json:"url"`
	Secret       string    `json:"-"`
	Events       []string  `json:"events"`
	CreatedAt    time.Time `json:"createdAt"`
}
