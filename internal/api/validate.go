package api

import (
	"fmt"
	"net/url"

	"fieldroute/internal/model"
	"fieldroute/internal/notify"
	"fieldroute/internal/opt"
)

const maxWindowDays = 14

func validateRunRequest(req opt.RunRequest) error {
	if req.Date != "" && !model.ValidDay(req.Date) {
		return fmt.Errorf("date must be YYYY-MM-DD")
	}
	if req.Days < 0 || req.Days > maxWindowDays {
		return fmt.Errorf("days must be between 0 and %d", maxWindowDays)
	}
	return nil
}

// jobInput is the create payload for a job. contractorId is only honored
// for admins; everyone else creates jobs on their own schedule.
type jobInput struct {
	ContractorID    string `json:"contractorId,omitempty"`
	Origin          string `json:"origin,omitempty"`
	ClientName      string `json:"clientName,omitempty"`
	Day             string `json:"day"`
	Start           string `json:"start"`
	DurationMinutes int    `json:"durationMinutes"`
	Flexibility     string `json:"flexibility,omitempty"`
	Locked          bool   `json:"lockedForOptimization,omitempty"`
	AddressKey      string `json:"addressKey"`
	QuoteID         string `json:"quoteId,omitempty"`
	PriceCents      int    `json:"priceCents,omitempty"`
	SourceSystem    string `json:"sourceSystem,omitempty"`
	ExternalRef     string `json:"externalRef,omitempty"`
}

// buildJob validates the payload and converts it to a job for contractorID.
// Origin defaults to internal and flexibility to flexible.
func (in jobInput) buildJob(contractorID string) (model.Job, error) {
	if !model.ValidDay(in.Day) {
		return model.Job{}, fmt.Errorf("day must be YYYY-MM-DD")
	}
	if _, err := model.ParseClock(in.Start); err != nil {
		return model.Job{}, fmt.Errorf("start: %v", err)
	}
	if in.DurationMinutes < 5 || in.DurationMinutes > 12*60 {
		return model.Job{}, fmt.Errorf("durationMinutes must be between 5 and 720")
	}
	if in.AddressKey == "" {
		return model.Job{}, fmt.Errorf("addressKey is required")
	}
	flex := model.FlexibilityClass(in.Flexibility)
	if flex == "" {
		flex = model.FlexFlexible
	}
	switch flex {
	case model.FlexFlexible, model.FlexTimeRestricted, model.FlexLocked:
	default:
		return model.Job{}, fmt.Errorf("flexibility must be flexible, timeRestricted, or locked")
	}
	origin := model.JobOrigin(in.Origin)
	if origin == "" {
		origin = model.OriginInternal
	}
	switch origin {
	case model.OriginInternal:
		if in.SourceSystem != "" || in.ExternalRef != "" {
			return model.Job{}, fmt.Errorf("internal jobs cannot carry sourceSystem or externalRef")
		}
	case model.OriginExternal:
		if in.SourceSystem == "" || in.ExternalRef == "" {
			return model.Job{}, fmt.Errorf("external jobs require sourceSystem and externalRef")
		}
		if in.QuoteID != "" || in.PriceCents != 0 {
			return model.Job{}, fmt.Errorf("external jobs cannot carry quoteId or priceCents")
		}
	default:
		return model.Job{}, fmt.Errorf("origin must be internal or external")
	}
	return model.Job{
		ContractorID:    contractorID,
		Origin:          origin,
		ClientName:      in.ClientName,
		Day:             in.Day,
		Start:           in.Start,
		DurationMinutes: in.DurationMinutes,
		Flexibility:     flex,
		Locked:          in.Locked,
		AddressKey:      in.AddressKey,
		QuoteID:         in.QuoteID,
		PriceCents:      in.PriceCents,
		SourceSystem:    in.SourceSystem,
		ExternalRef:     in.ExternalRef,
	}, nil
}

type moveInput struct {
	Day   string `json:"day"`
	Start string `json:"start"`
}

func (in moveInput) validate() error {
	if !model.ValidDay(in.Day) {
		return fmt.Errorf("day must be YYYY-MM-DD")
	}
	if _, err := model.ParseClock(in.Start); err != nil {
		return fmt.Errorf("start: %v", err)
	}
	return nil
}

var knownEvents = map[string]bool{
	notify.EventType(model.NotifyPendingApproval):  true,
	notify.EventType(model.NotifyPotentialSavings): true,
	notify.EventType(model.NotifyApplied):          true,
	notify.EventType(model.NotifyDismissed):        true,
}

type webhookInput struct {
	ContractorID string   `json:"contractorId,omitempty"`
	URL          string   `json:"url"`
	Secret       string   `json:"secret,omitempty"`
	Events       []string `json:"events"`
}

func (in webhookInput) validate() error {
	u, err := url.Parse(in.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("url must be an absolute http(s) URL")
	}
	if len(in.Events) == 0 {
		return fmt.Errorf("events must name at least one event")
	}
	for _, ev := range in.Events {
		if !knownEvents[ev] {
			return fmt.Errorf("unknown event %q", ev)
		}
	}
	return nil
}

type contractorInput struct {
	ID               string `json:"id,omitempty"`
	Name             string `json:"name"`
	SubscriptionTier string `json:"subscriptionTier,omitempty"`
	Active           *bool  `json:"active,omitempty"`
	WorkingDayStart  string `json:"workingDayStart,omitempty"`
	WorkingDayEnd    string `json:"workingDayEnd,omitempty"`
}

func (in contractorInput) validate() error {
	if in.Name == "" {
		return fmt.Errorf("name is required")
	}
	if (in.WorkingDayStart == "") != (in.WorkingDayEnd == "") {
		return fmt.Errorf("workingDayStart and workingDayEnd must be set together")
	}
	if in.WorkingDayStart != "" {
		start, err := model.ParseClock(in.WorkingDayStart)
		if err != nil {
			return fmt.Errorf("workingDayStart: %v", err)
		}
		end, err := model.ParseClock(in.WorkingDayEnd)
		if err != nil {
			return fmt.Errorf("workingDayEnd: %v", err)
		}
		if start >= end {
			return fmt.Errorf("workingDayStart must be before workingDayEnd")
		}
	}
	return nil
}
