package pipeline

import (
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/ThatMovieGuyOriginal/helparr-sub000/internal/httperr"
	"github.com/ThatMovieGuyOriginal/helparr-sub000/internal/metrics"
	"github.com/ThatMovieGuyOriginal/helparr-sub000/internal/ratelimit"
)

// KeyFunc derives the rate-limit identity for a request.
type KeyFunc func(*http.Request) string

// ClientIPKey keys the limiter by remote address, the default caller identity.
func ClientIPKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// RateLimitStage consults the sliding-window limiter and rejects callers over
// their budget with 429 plus retry metadata.
type RateLimitStage struct {
	limiter *ratelimit.Limiter
	window  time.Duration
	max     int
	keyFn   KeyFunc
	metrics *metrics.Recorder
	route   string
}

// NewRateLimit builds the stage. keyFn defaults to ClientIPKey.
func NewRateLimit(limiter *ratelimit.Limiter, window time.Duration, max int, keyFn KeyFunc, rec *metrics.Recorder, route string) *RateLimitStage {
	if keyFn == nil {
		keyFn = ClientIPKey
	}
	return &RateLimitStage{limiter: limiter, window: window, max: max, keyFn: keyFn, metrics: rec, route: route}
}

// Name identifies the stage for logging.
func (s *RateLimitStage) Name() string { return "rate_limit" }

// Execute checks the caller's budget. Allowed requests contribute the
// remaining-count headers; rejected requests short-circuit with Retry-After.
func (s *RateLimitStage) Execute(r *http.Request) Result {
	if s.limiter == nil || s.max <= 0 {
		return Proceed()
	}

	decision := s.limiter.Check(s.keyFn(r), s.window, s.max)

	headers := map[string]string{
		"X-RateLimit-Limit":     strconv.Itoa(s.max),
		"X-RateLimit-Remaining": strconv.Itoa(decision.Remaining),
		"X-RateLimit-Reset":     strconv.FormatInt(decision.ResetTime.Unix(), 10),
	}

	if !decision.Allowed {
		s.metrics.ObserveRateLimited(s.route)
		retryAfter := time.Until(decision.ResetTime)
		if retryAfter < 0 {
			retryAfter = 0
		}
		headers["Retry-After"] = strconv.Itoa(int(retryAfter.Seconds()) + 1)
		return Stop(ShortCircuit{
			Headers: headers,
			Err:     httperr.RateLimited("rate limit exceeded, slow down"),
		})
	}

	return ProceedWith(Continue{Headers: headers})
}
