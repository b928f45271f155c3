package feed

import (
	"encoding/json"
	"regexp"
	"strings"
)

// imdbIDPattern is the only thing that makes a movie eligible for inclusion:
// "tt" followed by digits.
var imdbIDPattern = regexp.MustCompile(`^tt\d+$`)

// Source attributes a movie to the person whose filmography or collection it
// came from.
type Source struct {
	PersonName string `json:"personName"`
	RoleType   string `json:"roleType"`
}

// Movie is one entry of a tenant's selection list.
type Movie struct {
	Title       string   `json:"title"`
	Year        *int     `json:"year,omitempty"`
	IMDBID      string   `json:"imdb_id"`
	Overview    string   `json:"overview,omitempty"`
	VoteAverage *float64 `json:"vote_average,omitempty"`
	Runtime     *int     `json:"runtime,omitempty"`
	ReleaseDate string   `json:"release_date,omitempty"`
	Genres      []string `json:"genres,omitempty"`
	Sources     []Source `json:"sources,omitempty"`
}

// HasValidIMDBID reports whether the entry may be emitted into a feed.
func (m Movie) HasValidIMDBID() bool {
	return imdbIDPattern.MatchString(m.IMDBID)
}

// ParseSelection decodes a serialized selection list. Malformed input
// degrades to an empty selection rather than failing: an unreadable list is
// an empty list, never an error feed.
func ParseSelection(raw string) []Movie {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	var movies []Movie
	if err := json.Unmarshal([]byte(raw), &movies); err != nil {
		return nil
	}
	return movies
}

// FilterValid keeps only entries carrying a syntactically valid imdb_id,
// preserving order. Duplicates are tolerated, not repaired; the structural
// validator detects them downstream.
func FilterValid(movies []Movie) []Movie {
	if len(movies) == 0 {
		return nil
	}
	valid := make([]Movie, 0, len(movies))
	for _, m := range movies {
		if m.HasValidIMDBID() {
			valid = append(valid, m)
		}
	}
	return valid
}
