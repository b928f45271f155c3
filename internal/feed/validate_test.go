package feed

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestValidateDocument_RejectsDuplicateGUIDs(t *testing.T) {
	r := newTestRenderer(t)
	movies := []Movie{
		{Title: "First", IMDBID: "tt0000001"},
		{Title: "Second", IMDBID: "tt0000001"},
	}
	doc := r.Render("tenant-1", movies, time.Now())

	err := ValidateDocument(doc)
	require.Error(t, err)
	require.Contains(t, err.Error(), "duplicate guid tt0000001")
}

func TestValidateDocument_RejectsStructuralDamage(t *testing.T) {
	r := newTestRenderer(t)
	doc := r.Render("tenant-1", sampleMovies(), time.Now())
	require.NoError(t, ValidateDocument(doc))

	require.Error(t, ValidateDocument(strings.TrimPrefix(doc, `<?xml version="1.0" encoding="UTF-8"?>`)))
	require.Error(t, ValidateDocument(strings.Replace(doc, "</rss>", "", 1)))
	require.Error(t, ValidateDocument(strings.Replace(doc, "</channel>", "", 1)))
}
