package pipeline

import (
	"fmt"
	"net/http"

	"github.com/ThatMovieGuyOriginal/helparr-sub000/internal/httperr"
)

// SizeLimitStage rejects oversized request bodies before later stages read
// them, and caps unread bodies with http.MaxBytesReader so a lying
// Content-Length cannot bypass the limit.
type SizeLimitStage struct {
	maxBytes int64
}

// NewSizeLimit builds the stage. A non-positive limit disables it.
func NewSizeLimit(maxBytes int64) *SizeLimitStage {
	return &SizeLimitStage{maxBytes: maxBytes}
}

// Name identifies the stage for logging.
func (s *SizeLimitStage) Name() string { return "size_limit" }

// Execute rejects declared-oversize requests outright and otherwise replaces
// the request body with a capped reader.
func (s *SizeLimitStage) Execute(r *http.Request) Result {
	if s.maxBytes <= 0 {
		return Proceed()
	}
	if r.ContentLength > s.maxBytes {
		return Stop(ShortCircuit{
			Err: httperr.TooLarge(fmt.Sprintf("request body exceeds %d bytes", s.maxBytes)),
		})
	}
	if r.Body != nil && r.Body != http.NoBody {
		capped := r.Clone(r.Context())
		capped.Body = http.MaxBytesReader(nil, r.Body, s.maxBytes)
		return ProceedWith(Continue{Request: capped})
	}
	return Proceed()
}
