// Package pipeline chains independent middleware stages around an HTTP
// handler. Stages run strictly in order; the first stage to halt stops the
// chain with only the headers accumulated so far, and later stages never run.
package pipeline

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/ThatMovieGuyOriginal/helparr-sub000/internal/httperr"
	"github.com/ThatMovieGuyOriginal/helparr-sub000/internal/metrics"
)

// Stage is one unit of the request pipeline. Execute inspects the request and
// returns either a continuation or a short-circuit; it must not write to the
// response itself.
type Stage interface {
	Name() string
	Execute(r *http.Request) Result
}

// Result is a tagged union: exactly one of Next or Halt is set.
type Result struct {
	Next *Continue
	Halt *ShortCircuit
}

// Continue lets the chain proceed, optionally contributing response headers,
// a replacement request (when the stage transformed the body), and validated
// data made available to the core handler.
type Continue struct {
	Headers map[string]string
	Request *http.Request
	Values  map[string]any
}

// ShortCircuit stops the chain with a terminal response. When Err is set it
// is serialized as the body; otherwise Body and Status are written verbatim.
type ShortCircuit struct {
	Status  int
	Headers map[string]string
	Body    []byte
	Err     *httperr.Error
}

// Proceed returns an empty continuation.
func Proceed() Result { return Result{Next: &Continue{}} }

// ProceedWith returns a continuation carrying headers or a replaced request.
func ProceedWith(c Continue) Result { return Result{Next: &c} }

// Stop halts the chain.
func Stop(s ShortCircuit) Result { return Result{Halt: &s} }

// ChainConfig shapes the driver that surrounds the stages.
type ChainConfig struct {
	Logger  *slog.Logger
	Metrics *metrics.Recorder
	// Route labels metrics for this chain, e.g. "/feed/{tenant}/movies.xml".
	Route string
	// CorrelationHeader names the request ID header to propagate or assign.
	CorrelationHeader string
	// Production strips stack detail from normalized errors.
	Production bool
	// AccessLog enables the request lifecycle log record.
	AccessLog bool
}

// Chain executes stages in order around a core handler.
type Chain struct {
	cfg    ChainConfig
	stages []Stage
}

// NewChain builds a chain from the supplied stages. Stage order is execution
// order.
func NewChain(cfg ChainConfig, stages ...Stage) *Chain {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Chain{cfg: cfg, stages: stages}
}

type contextKey struct{}

// Values returns the validated/sanitized data stages attached to the request,
// or nil when no stage contributed any.
func Values(ctx context.Context) map[string]any {
	v, _ := ctx.Value(contextKey{}).(map[string]any)
	return v
}

// Then wraps the core handler with the chain. The returned handler owns the
// full request lifecycle: correlation ID assignment, stage execution, header
// merging, panic normalization, and the access log record that observes the
// final status regardless of where short-circuiting occurred.
func (c *Chain) Then(core http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &responseRecorder{ResponseWriter: w}

		correlationID := ""
		if c.cfg.CorrelationHeader != "" {
			correlationID = r.Header.Get(c.cfg.CorrelationHeader)
			if correlationID == "" {
				correlationID = uuid.NewString()
			}
			rec.Header().Set(c.cfg.CorrelationHeader, correlationID)
		}

		c.serve(rec, r, core)

		elapsed := time.Since(start)
		c.cfg.Metrics.ObserveRequest(c.cfg.Route, r.Method, rec.Status(), elapsed)
		if c.cfg.AccessLog {
			attrs := []any{
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", rec.Status()),
				slog.Int64("bytes", rec.bytes),
				slog.Duration("duration", elapsed),
			}
			if correlationID != "" {
				attrs = append(attrs, slog.String("correlation_id", correlationID))
			}
			c.cfg.Logger.Info("request completed", attrs...)
		}
	})
}

func (c *Chain) serve(w http.ResponseWriter, r *http.Request, core http.Handler) {
	accumulated := map[string]string{}
	values := map[string]any{}

	for _, stage := range c.stages {
		result := c.execute(stage, r)

		if result.Halt != nil {
			// Fail fast: merge only headers accumulated so far plus
			// this stage's, then stop. Later stages never run.
			halt := result.Halt
			for k, v := range accumulated {
				w.Header().Set(k, v)
			}
			for k, v := range halt.Headers {
				w.Header().Set(k, v)
			}
			if halt.Err != nil {
				halt.Err.Write(w)
				return
			}
			status := halt.Status
			if status == 0 {
				status = http.StatusNoContent
			}
			w.WriteHeader(status)
			if len(halt.Body) > 0 {
				_, _ = w.Write(halt.Body)
			}
			return
		}

		next := result.Next
		for k, v := range next.Headers {
			accumulated[k] = v
		}
		for k, v := range next.Values {
			values[k] = v
		}
		if next.Request != nil {
			r = next.Request
		}
	}

	for k, v := range accumulated {
		w.Header().Set(k, v)
	}
	if len(values) > 0 {
		r = r.WithContext(context.WithValue(r.Context(), contextKey{}, values))
	}

	defer func() {
		if rec := recover(); rec != nil {
			c.cfg.Logger.Error("handler panicked",
				slog.String("path", r.URL.Path), slog.Any("panic", rec))
			httperr.FromPanic(rec, c.cfg.Production).Write(w)
		}
	}()
	core.ServeHTTP(w, r)
}

// execute guards each stage the same way the core handler is guarded: a
// panicking stage halts the chain with a normalized error instead of taking
// the listener down.
func (c *Chain) execute(stage Stage, r *http.Request) (result Result) {
	defer func() {
		if rec := recover(); rec != nil {
			c.cfg.Logger.Error("stage panicked",
				slog.String("stage", stage.Name()), slog.Any("panic", rec))
			result = Stop(ShortCircuit{Err: httperr.FromPanic(rec, c.cfg.Production)})
		}
	}()
	return stage.Execute(r)
}

// responseRecorder captures the final status and body size for the access log.
type responseRecorder struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func (r *responseRecorder) WriteHeader(status int) {
	if r.status == 0 {
		r.status = status
	}
	r.ResponseWriter.WriteHeader(status)
}

func (r *responseRecorder) Write(p []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	n, err := r.ResponseWriter.Write(p)
	r.bytes += int64(n)
	return n, err
}

func (r *responseRecorder) Status() int {
	if r.status == 0 {
		return http.StatusOK
	}
	return r.status
}
