package models

import (
	"time"
)

// Step identifies where a user is in the onboarding flow.
type Step string

const (
	StepIdle                    Step = "idle"
	StepAwaitingConsent         Step = "awaiting_consent"
	StepAwaitingName            Step = "awaiting_name"
	StepAwaitingEmail           Step = "awaiting_email"
	StepAwaitingPhone           Step = "awaiting_phone"
	StepAwaitingBirthDate       Step = "awaiting_birth_date"
	StepAwaitingBirthTimeChoice Step = "awaiting_birth_time_choice"
	StepAwaitingBirthTime       Step = "awaiting_birth_time"
	StepAwaitingBirthCity       Step = "awaiting_birth_city"
	StepComputing               Step = "computing"
)

// Valid reports whether s is a step that may be stored in a session row.
func (s Step) Valid() bool {
	switch s {
	case StepAwaitingConsent, StepAwaitingName, StepAwaitingEmail, StepAwaitingPhone,
		StepAwaitingBirthDate, StepAwaitingBirthTimeChoice, StepAwaitingBirthTime, StepAwaitingBirthCity:
		return true
	}
	return false
}

// Form field keys accumulated in Session.Data
const (
	FieldContactName  = "contactName"
	FieldContactEmail = "contactEmail"
	FieldContactPhone = "contactPhone"
	FieldBirthDate    = "birthDate"
	FieldBirthTime    = "birthTime"
	FieldBirthCity    = "birthCity"
)

// UserProfile represents a bot user and the chart derived for them
type UserProfile struct {
	UserID       int64        `json:"user_id"`
	Username     string       `json:"username,omitempty"`
	DisplayName  string       `json:"display_name,omitempty"`
	ContactName  string       `json:"contact_name,omitempty"`
	ContactEmail string       `json:"contact_email,omitempty"`
	ContactPhone string       `json:"contact_phone,omitempty"`
	BirthDate    string       `json:"birth_date,omitempty"`
	BirthTime    string       `json:"birth_time,omitempty"`
	BirthCity    string       `json:"birth_city,omitempty"`
	Chart        *ChartResult `json:"chart,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// ProfileUpdate is a partial profile write. Nil fields are left untouched.
type ProfileUpdate struct {
	Username     *string
	DisplayName  *string
	ContactName  *string
	ContactEmail *string
	ContactPhone *string
	BirthDate    *string
	BirthTime    *string
	BirthCity    *string
	Chart        *ChartResult
}

// IsEmpty reports whether the update carries no fields.
func (u ProfileUpdate) IsEmpty() bool {
	return u.Username == nil && u.DisplayName == nil && u.ContactName == nil &&
		u.ContactEmail == nil && u.ContactPhone == nil && u.BirthDate == nil &&
		u.BirthTime == nil && u.BirthCity == nil && u.Chart == nil
}

// Apply merges the supplied fields of u into p.
func (u ProfileUpdate) Apply(p *UserProfile) {
	set := func(dst *string, src *string) {
		if src != nil {
			*dst = *src
		}
	}
	set(&p.Username, u.Username)
	set(&p.DisplayName, u.DisplayName)
	set(&p.ContactName, u.ContactName)
	set(&p.ContactEmail, u.ContactEmail)
	set(&p.ContactPhone, u.ContactPhone)
	set(&p.BirthDate, u.BirthDate)
	set(&p.BirthTime, u.BirthTime)
	set(&p.BirthCity, u.BirthCity)
	if u.Chart != nil {
		c := *u.Chart
		p.Chart = &c
	}
}

// Session is the persisted onboarding position of a user
type Session struct {
	UserID    int64
	Step      Step
	Data      map[string]string
	UpdatedAt time.Time
}

// SessionWrite replaces a session's step and data
type SessionWrite struct {
	Step Step
	Data map[string]string
}

// Change is the persisted side-effect set of one transition.
// Session and ClearSession are mutually exclusive.
type Change struct {
	Profile      *ProfileUpdate
	Session      *SessionWrite
	ClearSession bool
}

// CloneData returns a copy of a form data map (never nil).
func CloneData(data map[string]string) map[string]string {
	out := make(map[string]string, len(data))
	for k, v := range data {
		out[k] = v
	}
	return out
}

// Ptr returns a pointer to s, for building ProfileUpdate values.
func Ptr(s string) *string {
	return &s
}
