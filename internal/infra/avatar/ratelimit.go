package avatar

import (
	"net/http"

	"github.com/cockroachdb/errors"
	"golang.org/x/time/rate"
)

// rateLimitedTransport delays outgoing requests to stay under the upstream
// quota. A request whose context expires while waiting fails without
// being sent.
type rateLimitedTransport struct {
	base    http.RoundTripper
	limiter *rate.Limiter
}

func newRateLimitedTransport(base http.RoundTripper, perSecond float64, burst int) *rateLimitedTransport {
	if burst <= 0 {
		burst = 1
	}
	return &rateLimitedTransport{
		base:    base,
		limiter: rate.NewLimiter(rate.Limit(perSecond), burst),
	}
}

func (t *rateLimitedTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	if err := t.limiter.Wait(r.Context()); err != nil {
		if r.Body != nil {
			_ = r.Body.Close()
		}
		return nil, errors.Wrap(err, "wait due to client side rate limiting")
	}
	return t.base.RoundTrip(r)
}
