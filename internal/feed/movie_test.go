package feed

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestParseSelection_FailSoft(t *testing.T) {
	require.Nil(t, ParseSelection(""))
	require.Nil(t, ParseSelection("not json"))
	require.Nil(t, ParseSelection(`{"movies": "wrong shape"}`))
}

func TestParseSelection_RoundTrip(t *testing.T) {
	raw := `[{"title":"Inception","imdb_id":"tt1375666","year":2010,"genres":["Sci-Fi"]}]`
	movies := ParseSelection(raw)
	require.Len(t, movies, 1)

	want := Movie{Title: "Inception", IMDBID: "tt1375666", Year: intPtr(2010), Genres: []string{"Sci-Fi"}}
	if diff := cmp.Diff(want, movies[0]); diff != "" {
		t.Fatalf("parsed movie mismatch (-want +got):\n%s", diff)
	}
}

func TestFilterValid_DropsMalformedIDs(t *testing.T) {
	movies := []Movie{
		{Title: "Good", IMDBID: "tt1234567"},
		{Title: "Bad", IMDBID: "nm1234567"},
		{Title: "Empty", IMDBID: ""},
		{Title: "Spaced", IMDBID: "tt123 456"},
		{Title: "AlsoGood", IMDBID: "tt1"},
	}

	valid := FilterValid(movies)
	require.Len(t, valid, 2)
	require.Equal(t, "Good", valid[0].Title)
	require.Equal(t, "AlsoGood", valid[1].Title)
}

func TestFilterValid_KeepsDuplicatesAndOrder(t *testing.T) {
	movies := []Movie{
		{Title: "A", IMDBID: "tt0000001"},
		{Title: "B", IMDBID: "tt0000002"},
		{Title: "A again", IMDBID: "tt0000001"},
	}
	valid := FilterValid(movies)
	require.Len(t, valid, 3)
	require.Equal(t, "B", valid[1].Title)
}
