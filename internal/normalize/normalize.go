// Package normalize maps raw adapter records onto the canonical model and
// owns the dedup-upsert path into the store.
package normalize

import (
	"errors"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/sells-group/barharvest/internal/model"
	"github.com/sells-group/barharvest/internal/source"
)

// ValidationError marks a record whose identity key is missing or malformed.
// The record is skipped and counted; the page continues.
type ValidationError struct {
	Err error
}

func (e *ValidationError) Error() string { return e.Err.Error() }

func (e *ValidationError) Unwrap() error { return e.Err }

// IsValidation reports whether err is a record-validation failure.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

var titleCaser = cases.Title(language.AmericanEnglish, cases.NoLower)

// admissionLayouts are the date formats seen across the registries.
var admissionLayouts = []string{
	"2006-01-02",
	"01/02/2006",
	"1/2/2006",
	"January 2, 2006",
	"Jan 2, 2006",
}

// Record normalizes one raw registry entry for the given jurisdiction. Field
// formats are canonicalized (trimmed, cased, dates parsed, status mapped into
// the fixed enumeration); a missing or malformed registration number is a
// ValidationError.
func Record(raw source.RawRecord, jurisdiction string) (*model.Attorney, error) {
	barNumber := strings.TrimSpace(raw[source.FieldBarNumber])
	if barNumber == "" {
		return nil, &ValidationError{Err: eris.New("normalize: missing registration number")}
	}
	if !validBarNumber(barNumber) {
		return nil, &ValidationError{Err: eris.Errorf("normalize: malformed registration number %q", barNumber)}
	}

	fullName := cleanName(raw[source.FieldFullName])
	firstName := cleanName(raw[source.FieldFirstName])
	lastName := cleanName(raw[source.FieldLastName])
	if fullName == "" && (firstName != "" || lastName != "") {
		fullName = strings.TrimSpace(firstName + " " + lastName)
	}
	if firstName == "" && lastName == "" && fullName != "" {
		firstName, lastName = splitName(fullName)
	}

	a := &model.Attorney{
		Jurisdiction:  jurisdiction,
		BarNumber:     barNumber,
		FullName:      fullName,
		FirstName:     firstName,
		LastName:      lastName,
		Status:        model.ParseStatus(raw[source.FieldStatus]),
		City:          titleCaser.String(strings.ToLower(strings.TrimSpace(raw[source.FieldCity]))),
		FirmName:      strings.TrimSpace(raw[source.FieldFirmName]),
		Phone:         strings.TrimSpace(raw[source.FieldPhone]),
		Email:         strings.ToLower(strings.TrimSpace(raw[source.FieldEmail])),
		PracticeAreas: dedupeAreas(raw.Areas()),
	}

	if d := strings.TrimSpace(raw[source.FieldAdmissionDate]); d != "" {
		if t, ok := parseAdmissionDate(d); ok {
			a.AdmissionDate = &t
		}
	}

	return a, nil
}

// validBarNumber accepts registration numbers made of letters, digits, and
// dashes; anything else is treated as extraction garbage.
func validBarNumber(s string) bool {
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r == '-':
		default:
			return false
		}
	}
	return true
}

func cleanName(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if s == "" {
		return ""
	}
	// Directory listings mix "JOHN SMITH" and "john smith"; title-case both
	// but leave mixed-case names (McAllister, O'Neil) alone.
	if s == strings.ToUpper(s) || s == strings.ToLower(s) {
		return titleCaser.String(strings.ToLower(s))
	}
	return s
}

// splitName derives first/last from a full name, handling "Last, First".
func splitName(full string) (first, last string) {
	if i := strings.Index(full, ","); i >= 0 {
		last = strings.TrimSpace(full[:i])
		rest := strings.Fields(full[i+1:])
		if len(rest) > 0 {
			first = rest[0]
		}
		return first, last
	}
	parts := strings.Fields(full)
	switch len(parts) {
	case 0:
		return "", ""
	case 1:
		return "", parts[0]
	default:
		return parts[0], parts[len(parts)-1]
	}
}

func parseAdmissionDate(s string) (time.Time, bool) {
	for _, layout := range admissionLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

func dedupeAreas(areas []string) []string {
	if len(areas) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(areas))
	out := make([]string, 0, len(areas))
	for _, a := range areas {
		a = titleCaser.String(strings.ToLower(strings.TrimSpace(a)))
		if a == "" || seen[a] {
			continue
		}
		seen[a] = true
		out = append(out, a)
	}
	return out
}
