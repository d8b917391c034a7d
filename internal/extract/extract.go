package extract

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/steam-harvester/internal/browser"
	"github.com/JakeFAU/steam-harvester/internal/harvest"
)

const (
	nameSelector          = ".apphub_AppName"
	snippetSelector       = ".game_description_snippet"
	descriptionSelector   = "#game_area_description"
	descriptionHeading    = "#game_area_description h2"
	reviewRowSelector     = ".user_reviews_summary_row"
	reviewTooltipAttr     = "data-tooltip-html"
	releaseDateSelector   = ".release_date .date"
	detailsBlockSelector  = ".details_block"
	blockTitleSelector    = ".block_title"
	metascoreSelector     = "#game_area_metascore .score"
	purchasePriceSelector = ".game_purchase_price"
	originalPriceSelector = ".discount_original_price"
	tagExpandSelector     = ".glance_tags .app_tag.add_button"
	tagModalSelector      = "#app_tagging_modal .app_tag"
	tagInlineSelector     = ".glance_tags a.app_tag"
	detailSpecSelector    = ".game_area_details_specs .name"

	dlcHeading = "about this content"
)

// Record is the partial result of extracting one page.
type Record struct {
	harvest.Scalars
	Tags    []string
	Details []string
	Genres  []string
}

// Entities returns the multi-valued field for kind.
func (r *Record) Entities(kind harvest.EntityKind) []string {
	switch kind {
	case harvest.KindTag:
		return r.Tags
	case harvest.KindDetail:
		return r.Details
	case harvest.KindGenre:
		return r.Genres
	default:
		return nil
	}
}

// Extractor reads a record from the current page of a session.
type Extractor struct {
	logger *zap.Logger
}

// New returns an Extractor.
func New(logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{logger: logger.Named("extract")}
}

// Extract reads every field from the loaded page. Missing optional fields are left nil.
// A missing or unparseable required field returns a *MalformedError.
func (e *Extractor) Extract(ctx context.Context, s browser.Session) (*Record, error) {
	rec := &Record{}
	steps := []func(context.Context, browser.Session, *Record) error{
		e.name,
		e.descriptions,
		e.reviews,
		e.releaseDate,
		e.classification,
		e.achievements,
		e.metacritic,
		e.price,
		e.tags,
		e.details,
	}
	for _, step := range steps {
		if err := step(ctx, s, rec); err != nil {
			return nil, err
		}
	}
	return rec, nil
}

func (e *Extractor) name(ctx context.Context, s browser.Session, rec *Record) error {
	f, err := First(ctx, s, true, textOf(nameSelector))
	if err != nil {
		return err
	}
	name, err := Require("name", f)
	if err != nil {
		return err
	}
	rec.Name = &name
	return nil
}

func (e *Extractor) descriptions(ctx context.Context, s browser.Session, rec *Record) error {
	snippet, err := First(ctx, s, false, textOf(snippetSelector))
	if err != nil {
		return err
	}
	rec.ShortDescription = snippet.Ptr()

	n, err := s.Count(ctx, descriptionSelector)
	if err != nil {
		return fmt.Errorf("count %s: %w", descriptionSelector, err)
	}
	if n == 0 {
		return nil
	}
	heading, err := First(ctx, s, false, textOf(descriptionHeading))
	if err != nil {
		return err
	}
	body, err := First(ctx, s, true, textOf(descriptionSelector))
	if err != nil {
		return err
	}
	if body.Status == StatusFound && heading.Status == StatusFound {
		body.Value = strings.TrimSpace(strings.TrimPrefix(body.Value, heading.Value))
		if body.Value == "" {
			body = Malformed[string]("description section has only a heading")
		}
	}
	long, err := Require("long_description", body)
	if err != nil {
		return err
	}
	isDLC := strings.Contains(strings.ToLower(heading.Value), dlcHeading)
	rec.LongDescription = &long
	rec.IsDLC = &isDLC
	return nil
}

func (e *Extractor) reviews(ctx context.Context, s browser.Session, rec *Record) error {
	tooltips, err := s.Attributes(ctx, reviewRowSelector, reviewTooltipAttr)
	if err != nil {
		return fmt.Errorf("read review tooltips: %w", err)
	}
	recent, all := ParseReviews(tooltips)
	if r := recent.Ptr(); r != nil {
		rec.RecentReviewPercent, rec.RecentReviewCount = &r.Percent, &r.Count
	}
	if r := all.Ptr(); r != nil {
		rec.AllReviewPercent, rec.AllReviewCount = &r.Percent, &r.Count
	}
	return nil
}

func (e *Extractor) releaseDate(ctx context.Context, s browser.Session, rec *Record) error {
	raw, err := First(ctx, s, false, textOf(releaseDateSelector))
	if err != nil {
		return err
	}
	if raw.Status != StatusFound {
		return nil
	}
	release, err := ParseReleaseDate(raw.Value)
	if err != nil {
		return &MalformedError{Field: "release_date", Reason: err.Error()}
	}
	if release.Pending {
		pending := true
		rec.ReleasePending = &pending
		return nil
	}
	pending := false
	rec.ReleaseDate = &release.Date
	rec.ReleasePending = &pending
	return nil
}

func (e *Extractor) classification(ctx context.Context, s browser.Session, rec *Record) error {
	blocks, err := s.Texts(ctx, detailsBlockSelector)
	if err != nil {
		return fmt.Errorf("read %s: %w", detailsBlockSelector, err)
	}
	c, err := Require("classification", ParseClassification(blocks))
	if err != nil {
		return err
	}
	rec.Title = &c.Title
	if c.Developer != "" {
		rec.Developer = &c.Developer
	}
	if c.Publisher != "" {
		rec.Publisher = &c.Publisher
	}
	rec.Genres = c.Genres
	return nil
}

func (e *Extractor) achievements(ctx context.Context, s browser.Session, rec *Record) error {
	titles, err := s.Texts(ctx, blockTitleSelector)
	if err != nil {
		return fmt.Errorf("read %s: %w", blockTitleSelector, err)
	}
	f := ParseAchievements(titles)
	e.logMalformed("achievements", f.Status, f.Reason)
	rec.Achievements = f.Ptr()
	return nil
}

func (e *Extractor) metacritic(ctx context.Context, s browser.Session, rec *Record) error {
	f, err := First(ctx, s, false, parsed(textOf(metascoreSelector), ParseMetacritic))
	if err != nil {
		return err
	}
	e.logMalformed("metacritic", f.Status, f.Reason)
	rec.Metacritic = f.Ptr()
	return nil
}

func (e *Extractor) price(ctx context.Context, s browser.Session, rec *Record) error {
	f, err := FirstPresent(ctx, s,
		parsed(textOf(purchasePriceSelector), ParsePrice),
		parsed(textOf(originalPriceSelector), ParsePrice),
	)
	if err != nil {
		return err
	}
	e.logMalformed("price", f.Status, f.Reason)
	p := f.Ptr()
	if p == nil {
		return nil
	}
	unknown := p.Unknown
	rec.PriceUnknown = &unknown
	if !unknown {
		cents := p.Cents
		rec.PriceCents = &cents
	}
	return nil
}

func (e *Extractor) tags(ctx context.Context, s browser.Session, rec *Record) error {
	err := s.Click(ctx, tagExpandSelector)
	switch {
	case err == nil:
		full, err := s.Texts(ctx, tagModalSelector)
		if err != nil {
			return fmt.Errorf("read %s: %w", tagModalSelector, err)
		}
		if tags := Set(full); len(tags) > 0 {
			rec.Tags = tags
			return nil
		}
	case errors.Is(err, browser.ErrNotInteractable), errors.Is(err, browser.ErrNotFound):
		e.logger.Debug("full tag list unavailable, using inline tags", zap.Error(err))
	default:
		return fmt.Errorf("expand tags: %w", err)
	}
	inline, err := s.Texts(ctx, tagInlineSelector)
	if err != nil {
		return fmt.Errorf("read %s: %w", tagInlineSelector, err)
	}
	rec.Tags = Set(inline)
	return nil
}

func (e *Extractor) details(ctx context.Context, s browser.Session, rec *Record) error {
	specs, err := s.Texts(ctx, detailSpecSelector)
	if err != nil {
		return fmt.Errorf("read %s: %w", detailSpecSelector, err)
	}
	rec.Details = Set(specs)
	return nil
}

func (e *Extractor) logMalformed(field string, status Status, reason string) {
	if status == StatusMalformed {
		e.logger.Debug("optional field unparseable, recording absent",
			zap.String("field", field), zap.String("reason", reason))
	}
}
