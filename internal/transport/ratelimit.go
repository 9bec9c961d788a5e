package transport

import (
	"net/http"

	"golang.org/x/time/rate"
)

// RateLimited wraps next so that requests wait for a token before leaving.
// qps <= 0 disables limiting and returns next unchanged.
// Waiting honors the request context, so a cancelled call never queues forever.
func RateLimited(next http.RoundTripper, qps float64, burst int) http.RoundTripper {
	if qps <= 0 {
		return next
	}
	if next == nil {
		next = http.DefaultTransport
	}
	if burst < 1 {
		burst = 1
	}
	return &rateLimitedTransport{
		next:    next,
		limiter: rate.NewLimiter(rate.Limit(qps), burst),
	}
}

type rateLimitedTransport struct {
	next    http.RoundTripper
	limiter *rate.Limiter
}

func (t *rateLimitedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := t.limiter.Wait(req.Context()); err != nil {
		return nil, err
	}
	return t.next.RoundTrip(req)
}
