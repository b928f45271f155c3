package pipeline

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/ThatMovieGuyOriginal/helparr-sub000/internal/config"
)

// CORSStage contributes cross-origin headers and answers preflight requests
// without invoking the core handler.
type CORSStage struct {
	cfg config.CORSConfig
}

// NewCORS builds the CORS stage from configuration.
func NewCORS(cfg config.CORSConfig) *CORSStage {
	return &CORSStage{cfg: cfg}
}

// Name identifies the stage for logging.
func (s *CORSStage) Name() string { return "cors" }

// Execute resolves the allowed origin and either short-circuits an OPTIONS
// preflight or contributes the CORS headers to the eventual response.
func (s *CORSStage) Execute(r *http.Request) Result {
	if !s.cfg.Enabled {
		return Proceed()
	}

	origin := r.Header.Get("Origin")
	allowed := s.allowedOrigin(origin)

	headers := map[string]string{}
	if allowed != "" {
		headers["Access-Control-Allow-Origin"] = allowed
		if allowed != "*" {
			headers["Vary"] = "Origin"
		}
	}

	if r.Method == http.MethodOptions {
		if len(s.cfg.Methods) > 0 {
			headers["Access-Control-Allow-Methods"] = strings.Join(s.cfg.Methods, ", ")
		}
		if len(s.cfg.Headers) > 0 {
			headers["Access-Control-Allow-Headers"] = strings.Join(s.cfg.Headers, ", ")
		}
		if s.cfg.MaxAgeSeconds > 0 {
			headers["Access-Control-Max-Age"] = strconv.Itoa(s.cfg.MaxAgeSeconds)
		}
		return Stop(ShortCircuit{Status: http.StatusNoContent, Headers: headers})
	}

	return ProceedWith(Continue{Headers: headers})
}

// allowedOrigin returns the Access-Control-Allow-Origin value for the caller,
// or empty when the origin is not permitted. An empty configured list allows
// any origin.
func (s *CORSStage) allowedOrigin(origin string) string {
	if len(s.cfg.Origins) == 0 {
		return "*"
	}
	for _, candidate := range s.cfg.Origins {
		if candidate == "*" {
			return "*"
		}
		if strings.EqualFold(candidate, origin) {
			return origin
		}
	}
	return ""
}
