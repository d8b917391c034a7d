package rodbrowser

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/steam-harvester/internal/browser"
)

const fixture = `<html><body>
<div class="apphub_AppName">Portal</div>
<a class="app_tag" href="#">Puzzle</a>
<a class="app_tag" href="#">Co-op</a>
<button id="hidden" style="display:none">x</button>
<input id="ageYear" value="2000">
</body></html>`

// Runs only when a local Chromium is available and HARVESTER_BROWSER_TESTS is set.
func TestSessionAgainstLocalPage(t *testing.T) {
	if os.Getenv("HARVESTER_BROWSER_TESTS") == "" {
		t.Skip("HARVESTER_BROWSER_TESTS not set")
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(fixture))
	}))
	defer srv.Close()

	s, err := New(Config{Headless: true, NavigationTimeout: 10 * time.Second})
	require.NoError(t, err)
	defer func() { require.NoError(t, s.Close()) }()

	ctx := context.Background()
	require.NoError(t, s.Navigate(ctx, srv.URL))

	name, err := s.Text(ctx, ".apphub_AppName")
	require.NoError(t, err)
	require.Equal(t, "Portal", name)

	tags, err := s.Texts(ctx, ".app_tag")
	require.NoError(t, err)
	require.Equal(t, []string{"Puzzle", "Co-op"}, tags)

	n, err := s.Count(ctx, ".missing")
	require.NoError(t, err)
	require.Zero(t, n)

	_, err = s.Text(ctx, ".missing")
	require.True(t, errors.Is(err, browser.ErrNotFound))

	err = s.Click(ctx, "#hidden")
	require.True(t, errors.Is(err, browser.ErrNotInteractable))

	require.NoError(t, s.SetValue(ctx, "#ageYear", "1985"))
}
