package httpclient

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/paperwave/paperwave/pkg/version"
)

type userAgentTransport struct {
	agent string
	rt    http.RoundTripper
}

func (u *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	r2 := req.Clone(req.Context())
	r2.Header.Set("User-Agent", u.agent)
	return u.rt.RoundTrip(r2)
}

type Opt func(*http.Client)

// WithTimeout bounds every request made through the client, covering
// connection, redirects, and reading the response body.
func WithTimeout(timeout time.Duration) Opt {
	return func(c *http.Client) {
		c.Timeout = timeout
	}
}

func NewHTTPClient(opts ...Opt) *http.Client {
	client := &http.Client{
		Transport: &userAgentTransport{
			agent: fmt.Sprintf("Paperwave/%s (%s; %s)", version.Version, runtime.GOOS, runtime.GOARCH),
			rt:    http.DefaultTransport,
		},
	}

	for _, opt := range opts {
		opt(client)
	}

	return client
}
