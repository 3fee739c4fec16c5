package httpclient

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserAgent(t *testing.T) {
	t.Parallel()

	var capturedHeaders http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		capturedHeaders = r.Header
	}))
	defer srv.Close()

	client := NewHTTPClient()
	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	require.NoError(t, err)

	resp, err := client.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	assert.True(t, strings.HasPrefix(capturedHeaders.Get("User-Agent"), "Paperwave/"))
}

func TestWithTimeout(t *testing.T) {
	t.Parallel()

	client := NewHTTPClient(WithTimeout(5 * time.Second))

	assert.Equal(t, 5*time.Second, client.Timeout)
}
