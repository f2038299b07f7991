// Package texasbar adapts the State Bar of Texas member directory. The
// directory has no single paged listing, so coverage is built from search
// segments: one POST search per major city, then one per last-name initial.
// Each segment paginates through "Next" links until exhausted.
package texasbar

import (
	"context"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"

	"github.com/sells-group/barharvest/internal/fetcher"
	"github.com/sells-group/barharvest/internal/source"
)

const (
	baseURL   = "https://www.texasbar.com"
	searchURL = baseURL + "/AM/CustomSource/MemberDirectory/Search.cfm"
)

var cities = []string{
	"Houston", "Dallas", "Austin", "San Antonio", "Fort Worth",
	"El Paso", "Arlington", "Plano", "Corpus Christi", "Lubbock",
	"Irving", "Garland", "Frisco", "McKinney", "Amarillo",
	"Grand Prairie", "Brownsville", "Killeen", "Pasadena", "McAllen",
}

const letters = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"

var (
	barNumberHrefRe = regexp.MustCompile(`(?i)BarNumber=(\d+)`)
	barNumberCellRe = regexp.MustCompile(`^\d{8}$`)
	barNumberTextRe = regexp.MustCompile(`(?i)Bar\s*(?:No\.?|Number|#)?\s*:?\s*(\d{8})`)
)

// Bar is the Texas adapter. Safe for use by a single harvest worker; the
// engine never calls Fetch concurrently for one source.
type Bar struct {
	f *fetcher.HTTPFetcher
}

// New creates the Texas adapter on top of the shared fetcher.
func New(f *fetcher.HTTPFetcher) *Bar {
	return &Bar{f: f}
}

func (b *Bar) Name() string { return "texas_bar" }

func (b *Bar) Jurisdiction() string { return "TX" }

// segmentCount is cities plus last-name initials.
func segmentCount() int { return len(cities) + len(letters) }

// cursor encoding: "seg=<idx>" at a segment's first page, plus
// "&page=<url>" once the segment's pager has produced a next-page link.
func decodeCursor(cursor string) (seg int, pageURL string, err error) {
	if cursor == "" {
		return 0, "", nil
	}
	v, err := url.ParseQuery(cursor)
	if err != nil {
		return 0, "", eris.Wrapf(err, "texasbar: malformed cursor %q", cursor)
	}
	seg, err = strconv.Atoi(v.Get("seg"))
	if err != nil || seg < 0 {
		return 0, "", eris.Errorf("texasbar: malformed cursor %q", cursor)
	}
	return seg, v.Get("page"), nil
}

func encodeCursor(seg int, pageURL string) string {
	if seg >= segmentCount() {
		return ""
	}
	v := url.Values{"seg": {strconv.Itoa(seg)}}
	if pageURL != "" {
		v.Set("page", pageURL)
	}
	return v.Encode()
}

func segmentForm(seg int) url.Values {
	if seg < len(cities) {
		return url.Values{
			"City":         {cities[seg]},
			"State":        {"TX"},
			"LastName":     {""},
			"FirstName":    {""},
			"BarNumber":    {""},
			"PracticeArea": {""},
		}
	}
	return url.Values{
		"LastName":  {string(letters[seg-len(cities)])},
		"FirstName": {""},
		"City":      {""},
		"BarNumber": {""},
	}
}

// Fetch retrieves one result page. A segment's first page is a form POST;
// subsequent pages follow the pager link with GET. On a permanent failure the
// error's NextCursor points at the following segment so the run can skip the
// broken page without losing the rest of the source.
func (b *Bar) Fetch(ctx context.Context, cursor string) ([]source.RawRecord, string, error) {
	seg, pageURL, err := decodeCursor(cursor)
	if err != nil {
		return nil, "", source.NewPermanentError(err, 0)
	}
	if seg >= segmentCount() {
		return nil, "", nil
	}

	var doc *goquery.Document
	if pageURL == "" {
		doc, err = b.f.PostFormDocument(ctx, searchURL, segmentForm(seg))
	} else {
		doc, err = b.f.GetDocument(ctx, pageURL)
	}
	if err != nil {
		if pe, ok := source.AsPermanent(err); ok {
			// The rest of this segment is unreachable without its pager.
			pe.NextCursor = encodeCursor(seg+1, "")
			pe.Terminal = pe.NextCursor == ""
		}
		return nil, "", err
	}

	records := parseResults(doc)

	if next := nextPageURL(doc); next != "" {
		return records, encodeCursor(seg, next), nil
	}
	return records, encodeCursor(seg+1, ""), nil
}

// parseResults extracts attorney rows from a result page. The directory has
// shipped both list-item and table layouts, so both are probed.
func parseResults(doc *goquery.Document) []source.RawRecord {
	var records []source.RawRecord

	sel := doc.Find(".attorney-result, .member-listing, .search-result")
	if sel.Length() > 0 {
		sel.Each(func(_ int, s *goquery.Selection) {
			if rec := parseListing(s); rec != nil {
				records = append(records, rec)
			}
		})
		return records
	}

	doc.Find("table.results tr, table.member-results tr").Each(func(i int, row *goquery.Selection) {
		if i == 0 {
			return // header row
		}
		if rec := parseTableRow(row); rec != nil {
			records = append(records, rec)
		}
	})
	return records
}

func parseTableRow(row *goquery.Selection) source.RawRecord {
	cells := row.Find("td")
	if cells.Length() < 2 {
		return nil
	}

	rec := source.RawRecord{}
	cells.Each(func(_ int, cell *goquery.Selection) {
		text := cleanText(cell.Text())
		link := cell.Find("a").First()

		switch {
		case link.Length() > 0 && rec[source.FieldFullName] == "":
			rec[source.FieldFullName] = cleanText(link.Text())
			if href, ok := link.Attr("href"); ok {
				if m := barNumberHrefRe.FindStringSubmatch(href); m != nil {
					rec[source.FieldBarNumber] = m[1]
				}
			}
		case barNumberCellRe.MatchString(text):
			rec[source.FieldBarNumber] = text
		case rec[source.FieldCity] == "" && isKnownCity(text):
			rec[source.FieldCity] = text
		}
	})

	if rec[source.FieldFullName] == "" {
		return nil
	}
	rec[source.FieldStatus] = "Active"
	return rec
}

func parseListing(s *goquery.Selection) source.RawRecord {
	rec := source.RawRecord{}

	name := cleanText(s.Find("h2, h3, h4, a, strong").First().Text())
	if name == "" {
		return nil
	}
	rec[source.FieldFullName] = name

	text := s.Text()
	if m := barNumberTextRe.FindStringSubmatch(text); m != nil {
		rec[source.FieldBarNumber] = m[1]
	} else if href, ok := s.Find("a").First().Attr("href"); ok {
		if m := barNumberHrefRe.FindStringSubmatch(href); m != nil {
			rec[source.FieldBarNumber] = m[1]
		}
	}

	if city := cleanText(s.Find(".city, .locator-city").First().Text()); city != "" {
		rec[source.FieldCity] = city
	}
	if firm := cleanText(s.Find(".firm, .firm-name").First().Text()); firm != "" {
		rec[source.FieldFirmName] = firm
	}
	if status := cleanText(s.Find(".status, .member-status").First().Text()); status != "" {
		rec[source.FieldStatus] = status
	} else {
		rec[source.FieldStatus] = "Active"
	}

	var areas []string
	s.Find(".practice-area, .practice-areas li").Each(func(_ int, a *goquery.Selection) {
		if label := cleanText(a.Text()); label != "" {
			areas = append(areas, label)
		}
	})
	if len(areas) > 0 {
		rec[source.FieldPracticeAreas] = strings.Join(areas, source.AreaSeparator)
	}
	return rec
}

// nextPageURL returns the absolute URL of the pager's next link, or "".
func nextPageURL(doc *goquery.Document) string {
	var next string
	doc.Find("a").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		label := strings.TrimSpace(a.Text())
		if !strings.EqualFold(label, "next") && label != "»" {
			return true
		}
		href, ok := a.Attr("href")
		if !ok || href == "" {
			return true
		}
		if !strings.HasPrefix(href, "http") {
			href = baseURL + href
		}
		next = href
		return false
	})
	return next
}

func isKnownCity(text string) bool {
	for _, c := range cities {
		if strings.EqualFold(c, text) {
			return true
		}
	}
	return false
}

var spaceRe = regexp.MustCompile(`\s+`)

func cleanText(s string) string {
	return strings.TrimSpace(spaceRe.ReplaceAllString(s, " "))
}
