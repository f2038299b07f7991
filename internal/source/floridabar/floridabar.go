// Package floridabar adapts the Florida Bar member directory. Unlike Texas
// it exposes a single paged listing, so the cursor is just the page number.
package floridabar

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"

	"github.com/sells-group/barharvest/internal/fetcher"
	"github.com/sells-group/barharvest/internal/source"
)

const (
	baseURL    = "https://www.floridabar.org"
	listingURL = baseURL + "/directories/find-mbr/"
)

var barNumberRe = regexp.MustCompile(`(?i)Bar\s*(?:No\.?|Number|#)?\s*:?\s*(\d+)`)

// Bar is the Florida adapter.
type Bar struct {
	f *fetcher.HTTPFetcher
}

// New creates the Florida adapter on top of the shared fetcher.
func New(f *fetcher.HTTPFetcher) *Bar {
	return &Bar{f: f}
}

func (b *Bar) Name() string { return "florida_bar" }

func (b *Bar) Jurisdiction() string { return "FL" }

// Fetch retrieves one listing page. The cursor is the 1-based page number;
// empty means page 1. On a permanent failure the error's NextCursor points at
// the following page so the run can skip past it.
func (b *Bar) Fetch(ctx context.Context, cursor string) ([]source.RawRecord, string, error) {
	page := 1
	if cursor != "" {
		n, err := strconv.Atoi(cursor)
		if err != nil || n < 1 {
			return nil, "", source.NewPermanentError(eris.Errorf("floridabar: malformed cursor %q", cursor), 0)
		}
		page = n
	}

	doc, err := b.f.GetDocument(ctx, fmt.Sprintf("%s?pg=%d", listingURL, page))
	if err != nil {
		if pe, ok := source.AsPermanent(err); ok {
			pe.NextCursor = strconv.Itoa(page + 1)
		}
		return nil, "", err
	}

	var records []source.RawRecord
	doc.Find("li.profile-compact, .directory-result").Each(func(_ int, s *goquery.Selection) {
		if rec := parseProfile(s); rec != nil {
			records = append(records, rec)
		}
	})

	if hasNextPage(doc, page) {
		return records, strconv.Itoa(page + 1), nil
	}
	return records, "", nil
}

func parseProfile(s *goquery.Selection) source.RawRecord {
	rec := source.RawRecord{}

	name := cleanText(s.Find("a.profile-name, h3 a, h3").First().Text())
	if name == "" {
		return nil
	}
	rec[source.FieldFullName] = name

	if m := barNumberRe.FindStringSubmatch(s.Text()); m != nil {
		rec[source.FieldBarNumber] = m[1]
	}
	if status := cleanText(s.Find(".eligibility, .member-status").First().Text()); status != "" {
		rec[source.FieldStatus] = status
	}
	if admitted := cleanText(s.Find(".admitted, .date-admitted").First().Text()); admitted != "" {
		rec[source.FieldAdmissionDate] = strings.TrimPrefix(admitted, "Admitted: ")
	}
	if city := cleanText(s.Find(".locality, .city").First().Text()); city != "" {
		rec[source.FieldCity] = city
	}
	if firm := cleanText(s.Find(".org, .firm-name").First().Text()); firm != "" {
		rec[source.FieldFirmName] = firm
	}
	if phone := cleanText(s.Find(".tel, .phone").First().Text()); phone != "" {
		rec[source.FieldPhone] = phone
	}
	if email := cleanText(s.Find("a.email").First().Text()); email != "" {
		rec[source.FieldEmail] = email
	}

	var areas []string
	s.Find(".practice-areas li, .practice-area").Each(func(_ int, a *goquery.Selection) {
		if label := cleanText(a.Text()); label != "" {
			areas = append(areas, label)
		}
	})
	if len(areas) > 0 {
		rec[source.FieldPracticeAreas] = strings.Join(areas, source.AreaSeparator)
	}
	return rec
}

// hasNextPage reports whether the pager advertises a page after the current
// one, either as a numbered link or an explicit next control.
func hasNextPage(doc *goquery.Document, page int) bool {
	found := false
	doc.Find(".pagination a, nav.pager a").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		label := strings.TrimSpace(a.Text())
		if strings.EqualFold(label, "next") || label == "»" {
			found = true
			return false
		}
		if n, err := strconv.Atoi(label); err == nil && n > page {
			found = true
			return false
		}
		return true
	})
	return found
}

var spaceRe = regexp.MustCompile(`\s+`)

func cleanText(s string) string {
	return strings.TrimSpace(spaceRe.ReplaceAllString(s, " "))
}
