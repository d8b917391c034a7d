package gate

import (
	"net/url"
	"strings"

	"github.com/JakeFAU/steam-harvester/internal/harvest"
)

// Observation is everything the classification rules look at once gates have been passed.
type Observation struct {
	// BaseURL is the storefront root, e.g. https://store.steampowered.com.
	BaseURL string
	// FinalURL is the document location after navigation and gates.
	FinalURL string
	// RedirectLoop is set when navigation itself failed with a redirect loop.
	RedirectLoop bool
	// HubMarker is set when the page carries community hub markup.
	HubMarker bool
	// ErrorBox is the text of the storefront error box, if any.
	ErrorBox string
	// FrameError is the text of the browser's own error frame, if any.
	FrameError string
	// Banner is the lower-cased heading of the description section. Empty when the page has none.
	Banner string
}

// Rule maps a predicate over an Observation to a page state.
type Rule struct {
	Name  string
	Match func(Observation) bool
	State harvest.PageState
}

// Rules is evaluated top to bottom; the first match wins.
var Rules = []Rule{
	{Name: "redirect_to_root", Match: redirectedToRoot, State: harvest.StateNotFound},
	{Name: "video_stream", Match: videoStream, State: harvest.StateVideoOnly},
	{Name: "hub_only", Match: hubOnly, State: harvest.StateNotFound},
	{Name: "region_block", Match: regionBlocked, State: harvest.StateRegionLocked},
	{Name: "infinite_redirect", Match: infiniteRedirect, State: harvest.StateInfiniteRedirect},
	{Name: "series_banner", Match: bannerContains("about this series"), State: harvest.StateSeriesOnly},
	{Name: "software_banner", Match: bannerContains("about this software"), State: harvest.StateSoftwareOnly},
	{Name: "video_banner", Match: bannerContains("about this video"), State: harvest.StateVideoOnly},
}

// Classify returns the state of the first matching rule, or StateExtractable.
func Classify(obs Observation) (harvest.PageState, string) {
	for _, rule := range Rules {
		if rule.Match(obs) {
			return rule.State, rule.Name
		}
	}
	return harvest.StateExtractable, ""
}

func redirectedToRoot(obs Observation) bool {
	if obs.FinalURL == "" {
		return false
	}
	final, err := url.Parse(obs.FinalURL)
	if err != nil {
		return false
	}
	base, err := url.Parse(obs.BaseURL)
	if err == nil && base.Host != "" && !strings.EqualFold(final.Host, base.Host) {
		return false
	}
	// the root with a tracking query (?snr=...) is still the root
	return strings.Trim(final.Path, "/") == ""
}

func videoStream(obs Observation) bool {
	return strings.Contains(obs.FinalURL, "/video/")
}

func hubOnly(obs Observation) bool {
	if obs.HubMarker {
		return true
	}
	u, err := url.Parse(obs.FinalURL)
	if err != nil {
		return false
	}
	return strings.HasSuffix(strings.ToLower(u.Host), "steamcommunity.com")
}

func regionBlocked(obs Observation) bool {
	return strings.Contains(strings.ToLower(obs.ErrorBox), "unavailable in your region")
}

func infiniteRedirect(obs Observation) bool {
	return obs.RedirectLoop || strings.Contains(strings.ToUpper(obs.FrameError), "ERR_TOO_MANY_REDIRECTS")
}

func bannerContains(phrase string) func(Observation) bool {
	return func(obs Observation) bool {
		return strings.Contains(obs.Banner, phrase)
	}
}
