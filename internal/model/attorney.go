// Package model defines the canonical entities persisted by the harvester.
package model

import (
	"fmt"
	"strings"
	"time"
)

// Status is the canonical licensure status of an attorney record.
type Status string

const (
	StatusActive    Status = "active"
	StatusInactive  Status = "inactive"
	StatusSuspended Status = "suspended"
	StatusOther     Status = "other"
)

// ParseStatus canonicalizes a raw status string from any source. Unrecognized
// values map to StatusOther rather than failing, since sources use free-form
// labels ("Eligible to Practice", "Member in Good Standing", ...).
func ParseStatus(raw string) Status {
	s := strings.ToLower(strings.TrimSpace(raw))
	switch {
	case s == "":
		return StatusOther
	case strings.Contains(s, "suspend"):
		return StatusSuspended
	case strings.Contains(s, "inactive") || strings.Contains(s, "retired") || strings.Contains(s, "resigned"):
		return StatusInactive
	case strings.Contains(s, "active") || strings.Contains(s, "eligible") || strings.Contains(s, "good standing"):
		return StatusActive
	default:
		return StatusOther
	}
}

// Identity is the immutable key of an attorney record: the jurisdiction the
// registry belongs to plus the registration (bar) number within it.
type Identity struct {
	Jurisdiction string `json:"jurisdiction"`
	BarNumber    string `json:"bar_number"`
}

// String renders the identity as "TX/24001234".
func (k Identity) String() string {
	return fmt.Sprintf("%s/%s", k.Jurisdiction, k.BarNumber)
}

// Attorney is the canonical record for one registry entry. Identity fields
// never change after creation; later harvests only update the mutable fields
// (status, city, firm, contact).
type Attorney struct {
	ID            int64      `json:"id"`
	Jurisdiction  string     `json:"jurisdiction"`
	BarNumber     string     `json:"bar_number"`
	FullName      string     `json:"full_name"`
	FirstName     string     `json:"first_name,omitempty"`
	LastName      string     `json:"last_name,omitempty"`
	Status        Status     `json:"status"`
	AdmissionDate *time.Time `json:"admission_date,omitempty"`
	City          string     `json:"city,omitempty"`
	FirmID        *int64     `json:"firm_id,omitempty"`
	FirmName      string     `json:"firm_name,omitempty"`
	Phone         string     `json:"phone,omitempty"`
	Email         string     `json:"email,omitempty"`
	PracticeAreas []string   `json:"practice_areas,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// Key returns the record's identity key.
func (a *Attorney) Key() Identity {
	return Identity{Jurisdiction: a.Jurisdiction, BarNumber: a.BarNumber}
}

// Firm is a law firm referenced by many attorney records. Firms are created
// lazily on first sighting and never deleted by the harvester.
type Firm struct {
	ID           int64     `json:"id"`
	Name         string    `json:"name"`
	NormName     string    `json:"norm_name"`
	Jurisdiction string    `json:"jurisdiction"`
	City         string    `json:"city,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// NormalizeFirmName produces the dedup key for a firm name: lowercased,
// whitespace collapsed, trailing corporate suffixes stripped.
func NormalizeFirmName(name string) string {
	s := strings.ToLower(strings.Join(strings.Fields(name), " "))
	for _, suffix := range []string{", llp", ", llc", ", pllc", ", pc", ", p.c.", " llp", " llc", " pllc"} {
		s = strings.TrimSuffix(s, suffix)
	}
	return strings.TrimSpace(s)
}
