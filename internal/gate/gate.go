// Package gate drives the browser to an entry page, passes age and mature-content gates,
// and classifies the resulting page before extraction.
package gate

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/steam-harvester/internal/browser"
	"github.com/JakeFAU/steam-harvester/internal/harvest"
)

const (
	ageYearSelector        = "#ageYear"
	ageFormSelector        = "#agecheck_form"
	ageContinueSelector    = "#view_product_page_btn"
	matureGateSelector     = "#app_agegate"
	matureContinueSelector = "#app_agegate .btn_medium"

	hubSelector      = "#AppHubCards"
	errorBoxSelector = "#error_box"
	frameErrSelector = "#main-frame-error"
	bannerSelector   = "#game_area_description h2"

	defaultStoreRoot = "https://store.steampowered.com"
)

// DefaultBirthYear is submitted through the age gate when none is configured.
const DefaultBirthYear = 1985

// Config controls how entry pages are located and gates are answered.
type Config struct {
	BaseURL   string
	BirthYear int
}

// Handler implements classify-and-load over one browser session.
type Handler struct {
	session browser.Session
	cfg     Config
	logger  *zap.Logger
}

// New returns a Handler. Zero config values fall back to the public storefront and DefaultBirthYear.
func New(session browser.Session, cfg Config, logger *zap.Logger) *Handler {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultStoreRoot
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.BirthYear == 0 {
		cfg.BirthYear = DefaultBirthYear
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{session: session, cfg: cfg, logger: logger.Named("gate")}
}

// URLFor returns the store page of an entry.
func (h *Handler) URLFor(entryID int64) string {
	return PageURL(h.cfg.BaseURL, entryID)
}

// PageURL returns the page of entryID below baseURL.
func PageURL(baseURL string, entryID int64) string {
	return fmt.Sprintf("%s/app/%d/", strings.TrimRight(baseURL, "/"), entryID)
}

// ClassifyAndLoad navigates to the entry page, passes any gates, and classifies the result.
// Errors other than a redirect loop are returned to the caller unchanged.
func (h *Handler) ClassifyAndLoad(ctx context.Context, entryID int64) (harvest.PageState, error) {
	obs := Observation{BaseURL: h.cfg.BaseURL}

	if err := h.session.Navigate(ctx, h.URLFor(entryID)); err != nil {
		if !errors.Is(err, browser.ErrTooManyRedirects) {
			return "", fmt.Errorf("navigate: %w", err)
		}
		obs.RedirectLoop = true
	} else {
		if err := h.passAgeGate(ctx); err != nil {
			return "", err
		}
		if err := h.passMatureGate(ctx); err != nil {
			return "", err
		}
		if err := h.observe(ctx, &obs); err != nil {
			return "", err
		}
	}

	state, rule := Classify(obs)
	h.logger.Debug("page classified",
		zap.Int64("entry_id", entryID),
		zap.String("state", string(state)),
		zap.String("rule", rule),
		zap.String("url", obs.FinalURL),
	)
	return state, nil
}

func (h *Handler) passAgeGate(ctx context.Context) error {
	present, err := h.present(ctx, ageYearSelector)
	if err != nil || !present {
		return err
	}
	h.logger.Debug("answering age gate")
	if err := h.session.SetValue(ctx, ageYearSelector, strconv.Itoa(h.cfg.BirthYear)); err != nil {
		return silent(fmt.Errorf("age gate year: %w", err))
	}
	hasForm, err := h.present(ctx, ageFormSelector)
	if err != nil {
		return err
	}
	if hasForm {
		return silent(h.session.Submit(ctx, ageFormSelector))
	}
	return silent(h.session.Click(ctx, ageContinueSelector))
}

func (h *Handler) passMatureGate(ctx context.Context) error {
	present, err := h.present(ctx, matureGateSelector)
	if err != nil || !present {
		return err
	}
	h.logger.Debug("confirming mature content gate")
	return silent(h.session.Click(ctx, matureContinueSelector))
}

func (h *Handler) observe(ctx context.Context, obs *Observation) error {
	var err error
	if obs.FinalURL, err = h.session.Location(ctx); err != nil {
		return fmt.Errorf("location: %w", err)
	}
	if obs.HubMarker, err = h.present(ctx, hubSelector); err != nil {
		return err
	}
	if obs.ErrorBox, err = h.optionalText(ctx, errorBoxSelector); err != nil {
		return err
	}
	if obs.FrameError, err = h.optionalText(ctx, frameErrSelector); err != nil {
		return err
	}
	banner, err := h.optionalText(ctx, bannerSelector)
	if err != nil {
		return err
	}
	obs.Banner = strings.ToLower(banner)
	return nil
}

func (h *Handler) present(ctx context.Context, selector string) (bool, error) {
	n, err := h.session.Count(ctx, selector)
	if err != nil {
		return false, fmt.Errorf("count %s: %w", selector, err)
	}
	return n > 0, nil
}

func (h *Handler) optionalText(ctx context.Context, selector string) (string, error) {
	text, err := h.session.Text(ctx, selector)
	if errors.Is(err, browser.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("text %s: %w", selector, err)
	}
	return text, nil
}

// silent drops not-found errors from gate controls.
func silent(err error) error {
	if errors.Is(err, browser.ErrNotFound) {
		return nil
	}
	return err
}
