// Package source defines the adapter contract each jurisdiction's registry
// implements, plus the failure taxonomy for fetches.
package source

import (
	"context"
	"errors"
	"strings"
)

// Well-known RawRecord field keys. Adapters populate whichever their source
// exposes; the normalization layer tolerates absent keys.
const (
	FieldBarNumber     = "bar_number"
	FieldFullName      = "full_name"
	FieldFirstName     = "first_name"
	FieldLastName      = "last_name"
	FieldStatus        = "status"
	FieldAdmissionDate = "admission_date"
	FieldCity          = "city"
	FieldFirmName      = "firm_name"
	FieldPhone         = "phone"
	FieldEmail         = "email"
	FieldPracticeAreas = "practice_areas"
)

// AreaSeparator joins multiple practice-area labels into the single
// FieldPracticeAreas value.
const AreaSeparator = "|"

// RawRecord is one untyped registry entry as extracted from source markup.
// Identity resolution, validation, and persistence happen downstream.
type RawRecord map[string]string

// Areas splits the practice-area field into individual labels.
func (r RawRecord) Areas() []string {
	v := strings.TrimSpace(r[FieldPracticeAreas])
	if v == "" {
		return nil
	}
	var out []string
	for _, a := range strings.Split(v, AreaSeparator) {
		if a = strings.TrimSpace(a); a != "" {
			out = append(out, a)
		}
	}
	return out
}

// Source is the contract each jurisdiction adapter implements. An adapter
// owns page-request construction and markup-to-field extraction; it does not
// resolve identity, classify validation errors, or persist.
//
// Fetch translates a pagination cursor into one page of raw records plus the
// cursor of the following page. An empty cursor means start-of-source; an
// empty next cursor means the source is exhausted.
type Source interface {
	// Name is the unique source identifier, e.g. "texas_bar".
	Name() string

	// Jurisdiction is the registry's jurisdiction code, e.g. "TX".
	Jurisdiction() string

	Fetch(ctx context.Context, cursor string) (records []RawRecord, next string, err error)
}

// PermanentError marks an unretryable fetch failure: the request itself
// succeeded but the page could not be interpreted (or the server rejected it
// with a non-rate-limit 4xx). If the adapter can still determine the next
// cursor, it sets NextCursor so the run can skip the bad page.
type PermanentError struct {
	Err        error
	StatusCode int
	NextCursor string
	// Terminal marks a determinable next cursor that is end-of-source: the
	// failed page was the last one, so the run skips it and completes instead
	// of aborting.
	Terminal bool
}

func (e *PermanentError) Error() string { return e.Err.Error() }

func (e *PermanentError) Unwrap() error { return e.Err }

// NewPermanentError wraps err as an unretryable fetch failure.
func NewPermanentError(err error, statusCode int) *PermanentError {
	return &PermanentError{Err: err, StatusCode: statusCode}
}

// AsPermanent returns the PermanentError in err's chain, if any.
func AsPermanent(err error) (*PermanentError, bool) {
	var pe *PermanentError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}
