package extract

import (
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"
)

// Price is a parsed purchase price.
type Price struct {
	Cents int64
	// Unknown marks third-party pricing that the store does not display.
	Unknown bool
}

var (
	freePhrases = []string{"free to play", "free", "play for free"}
	demoPattern = regexp.MustCompile(`^play\b.*\bdemo$`)
	amountRe    = regexp.MustCompile(`\d[\d.,\s]*`)
)

// ParsePrice parses a storefront price string. Free phrases give zero cents and third-party
// pricing gives an Unknown price.
func ParsePrice(raw string) Field[Price] {
	text := strings.ToLower(strings.TrimSpace(raw))
	if text == "" {
		return Malformed[Price]("empty price")
	}
	if slices.Contains(freePhrases, text) || demoPattern.MatchString(text) {
		return Found(Price{})
	}
	if strings.Contains(text, "third-party") || strings.Contains(text, "third party") {
		return Found(Price{Unknown: true})
	}
	amount := amountRe.FindString(text)
	if amount == "" {
		return Malformed[Price]("no amount in %q", raw)
	}
	cents, err := parseCents(amount)
	if err != nil {
		return Malformed[Price]("price %q: %v", raw, err)
	}
	return Found(Price{Cents: cents})
}

// parseCents accepts both 1,299.99 and 1.299,99 style amounts. A final separator followed by
// exactly two digits is the decimal mark; every other separator groups thousands.
func parseCents(amount string) (int64, error) {
	amount = strings.Join(strings.Fields(amount), "")
	amount = strings.TrimRight(amount, ".,")
	whole, frac := amount, ""
	if i := strings.LastIndexAny(amount, ".,"); i >= 0 && len(amount)-i-1 == 2 {
		whole, frac = amount[:i], amount[i+1:]
	}
	whole = strings.NewReplacer(".", "", ",", "").Replace(whole)
	if whole == "" {
		whole = "0"
	}
	units, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse amount: %w", err)
	}
	cents := units * 100
	if frac != "" {
		f, err := strconv.ParseInt(frac, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("parse fraction: %w", err)
		}
		cents += f
	}
	return cents, nil
}

// Release is a parsed release date. Pending is set when the store announces the entry without a date.
type Release struct {
	Date    time.Time
	Pending bool
}

var seasonTokens = map[string]string{
	"spring": "april",
	"summer": "july",
	"fall":   "october",
	"autumn": "october",
	"winter": "january",
	"q1":     "february",
	"q2":     "may",
	"q3":     "august",
	"q4":     "november",
}

var (
	seasonRe   = regexp.MustCompile(`\b(spring|summer|fall|autumn|winter|q1|q2|q3|q4)\b`)
	bareYearRe = regexp.MustCompile(`\b(\d{4})\b`)

	dateLayouts = []string{
		"Jan 2, 2006",
		"2 Jan, 2006",
		"January 2, 2006",
		"2 January, 2006",
		"2 Jan 2006",
		"2 January 2006",
		"Jan 2006",
		"January 2006",
		"2006-01-02",
	}

	comingSoonPhrases = []string{
		"coming soon",
		"to be announced",
		"to be determined",
		"tba",
		"tbd",
		"when it's done",
		"not yet available",
	}
)

// ParseReleaseDate parses a release date string. Seasons and quarters map to a representative
// month, coming-soon phrases yield a pending release, and a lone four-digit year is accepted last.
func ParseReleaseDate(raw string) (Release, error) {
	text := strings.Join(strings.Fields(strings.ToLower(raw)), " ")
	normalized := seasonRe.ReplaceAllStringFunc(text, func(tok string) string {
		return seasonTokens[tok]
	})
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, normalized); err == nil {
			return Release{Date: t}, nil
		}
	}
	for _, phrase := range comingSoonPhrases {
		if text == phrase || (len(phrase) > 3 && strings.Contains(text, phrase)) {
			return Release{Pending: true}, nil
		}
	}
	if m := bareYearRe.FindStringSubmatch(normalized); m != nil {
		year, _ := strconv.Atoi(m[1])
		return Release{Date: time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)}, nil
	}
	return Release{}, fmt.Errorf("unrecognized release date %q", raw)
}

// Reviews holds one review window.
type Reviews struct {
	Percent int
	Count   int
}

var (
	recentReviewsRe = regexp.MustCompile(`(\d+)% of the ([\d,]+) user reviews in the last 30 days are positive`)
	allReviewsRe    = regexp.MustCompile(`(\d+)% of the ([\d,]+) user reviews for this (?:game|software|content) are positive`)
)

// ParseReviews scans review tooltips and fills whichever windows match.
func ParseReviews(tooltips []string) (recent, all Field[Reviews]) {
	for _, tip := range tooltips {
		if m := recentReviewsRe.FindStringSubmatch(tip); m != nil && recent.Status != StatusFound {
			recent = reviewsFrom(m)
		}
		if m := allReviewsRe.FindStringSubmatch(tip); m != nil && all.Status != StatusFound {
			all = reviewsFrom(m)
		}
	}
	return recent, all
}

func reviewsFrom(m []string) Field[Reviews] {
	pct, err := strconv.Atoi(m[1])
	if err != nil {
		return Malformed[Reviews]("review percent %q", m[1])
	}
	count, err := atoiGrouped(m[2])
	if err != nil {
		return Malformed[Reviews]("review count %q", m[2])
	}
	return Found(Reviews{Percent: pct, Count: count})
}

func atoiGrouped(s string) (int, error) {
	return strconv.Atoi(strings.ReplaceAll(s, ",", ""))
}

// Classification is the labeled title block.
type Classification struct {
	Title     string
	Genres    []string
	Developer string
	Publisher string
}

var classificationRe = regexp.MustCompile(
	`Title:[ \t]*([^\n]+)` +
		`(?:\s*Genre:\s*([^\n]+))?` +
		`(?:\s*Developer:\s*([^\n]+))?` +
		`(?:\s*Publisher:\s*([^\n]+))?`)

// ParseClassification matches the first block carrying a Title line.
func ParseClassification(blocks []string) Field[Classification] {
	for _, block := range blocks {
		text := strings.ReplaceAll(block, "\r\n", "\n")
		m := classificationRe.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		c := Classification{
			Title:     strings.TrimSpace(m[1]),
			Developer: strings.TrimSpace(m[3]),
			Publisher: strings.TrimSpace(m[4]),
		}
		if m[2] != "" {
			c.Genres = Set(strings.Split(m[2], ", "))
		}
		if c.Title == "" {
			return Malformed[Classification]("empty title")
		}
		return Found(c)
	}
	if len(blocks) == 0 {
		return Absent[Classification]()
	}
	return Malformed[Classification]("no block matched the title pattern")
}

var achievementsRe = regexp.MustCompile(`Includes ([\d,]+) Steam Achievements`)

// ParseAchievements scans block titles for the achievement count.
func ParseAchievements(titles []string) Field[int] {
	for _, title := range titles {
		if m := achievementsRe.FindStringSubmatch(title); m != nil {
			n, err := atoiGrouped(m[1])
			if err != nil {
				return Malformed[int]("achievements %q", m[1])
			}
			return Found(n)
		}
	}
	return Absent[int]()
}

// ParseMetacritic parses the metascore. "NA" is absence.
func ParseMetacritic(raw string) Field[int] {
	text := strings.TrimSpace(raw)
	if strings.EqualFold(text, "NA") || strings.EqualFold(text, "N/A") {
		return Absent[int]()
	}
	n, err := strconv.Atoi(text)
	if err != nil {
		return Malformed[int]("metascore %q", raw)
	}
	return Found(n)
}

// Set trims, drops empties and duplicates, and sorts.
func Set(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" || v == "+" {
			continue
		}
		out = append(out, v)
	}
	slices.Sort(out)
	return slices.Compact(out)
}
