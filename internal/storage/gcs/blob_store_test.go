package gcs

import (
	"context"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"
)

func TestNewValidatesConfig(t *testing.T) {
	_, err := New(nil, Config{Bucket: "b"})
	require.Error(t, err)
}

func TestURI(t *testing.T) {
	require.Equal(t, "gs://archive/pages/620/abc.html", URI("archive", "/pages/620/abc.html"))
}

func TestAlreadyExists(t *testing.T) {
	require.True(t, alreadyExists(fmt.Errorf("close: %w", &googleapi.Error{Code: http.StatusPreconditionFailed})))
	require.False(t, alreadyExists(&googleapi.Error{Code: http.StatusForbidden}))
	require.False(t, alreadyExists(context.Canceled))
}
