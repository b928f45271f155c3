package feed

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
	"time"

	sprig "github.com/Masterminds/sprig/v3"

	"github.com/ThatMovieGuyOriginal/helparr-sub000/internal/config"
)

const (
	atomNamespace    = "http://www.w3.org/2005/Atom"
	helparrNamespace = "https://helparr.app/rss/1.0"
	generatorName    = "helparr v2.0 (deduplication)"
	feedTTLMinutes   = 60
)

// ChannelData is the binding available to the channel title and description
// templates.
type ChannelData struct {
	Count    int
	TenantID string
}

// Renderer turns a filtered movie selection into an RSS 2.0 document. All
// methods are safe for concurrent use; templates are compiled once at
// construction.
type Renderer struct {
	titleTmpl *template.Template
	descTmpl  *template.Template
	baseURL   string
	language  string
	overview  int
}

// NewRenderer compiles the channel templates with the sprig function map so
// operators can shape channel metadata without code changes.
func NewRenderer(cfg config.FeedConfig, baseURL string) (*Renderer, error) {
	funcs := sprig.TxtFuncMap()
	titleTmpl, err := template.New("title").Funcs(funcs).Parse(cfg.TitleTemplate)
	if err != nil {
		return nil, fmt.Errorf("feed: parse title template: %w", err)
	}
	descTmpl, err := template.New("description").Funcs(funcs).Parse(cfg.DescriptionTemplate)
	if err != nil {
		return nil, fmt.Errorf("feed: parse description template: %w", err)
	}
	return &Renderer{
		titleTmpl: titleTmpl,
		descTmpl:  descTmpl,
		baseURL:   strings.TrimRight(baseURL, "/"),
		language:  cfg.Language,
		overview:  cfg.OverviewLimit,
	}, nil
}

// Render produces the full feed document for an already-filtered, ordered
// selection. An empty selection renders exactly one welcome placeholder item.
func (r *Renderer) Render(tenantID string, movies []Movie, now time.Time) string {
	data := ChannelData{Count: len(movies), TenantID: tenantID}

	title := r.renderTemplate(r.titleTmpl, data, "Ready for Movies")
	description := r.renderTemplate(r.descTmpl, data, "Curated movie list")

	var items bytes.Buffer
	if len(movies) == 0 {
		r.writeNoticeItem(&items,
			"Welcome to your movie feed",
			"Your list is ready. Movies you select will appear here for your download client to pick up.",
			"helparr-welcome", now)
	} else {
		for _, m := range movies {
			r.writeMovieItem(&items, m, now)
		}
	}

	return r.document(tenantID, title, description, items.String(), hasExtensions(movies), now)
}

// ErrorFeed produces a minimal-but-valid document carrying a single Service
// Notice item. It is a pure function of its inputs and must never fail.
func (r *Renderer) ErrorFeed(tenantID, message string, now time.Time) string {
	var items bytes.Buffer
	r.writeNoticeItem(&items, "Service Notice", message, "helparr-notice", now)
	return r.document(tenantID, "Movie Feed Unavailable", "The feed could not be generated", items.String(), false, now)
}

func (r *Renderer) document(tenantID, title, description, items string, extensions bool, now time.Time) string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?>` + "\n")
	b.WriteString(`<rss version="2.0" xmlns:atom="` + atomNamespace + `"`)
	if extensions {
		b.WriteString(` xmlns:helparr="` + helparrNamespace + `"`)
	}
	b.WriteString(">\n<channel>\n")

	selfLink := fmt.Sprintf("%s/feed/%s/movies.xml", r.baseURL, tenantID)
	fmt.Fprintf(&b, "<title>%s</title>\n", escapeXML(title))
	fmt.Fprintf(&b, "<description>%s</description>\n", escapeXML(description))
	fmt.Fprintf(&b, "<link>%s</link>\n", escapeXML(r.baseURL))
	fmt.Fprintf(&b, `<atom:link href="%s" rel="self" type="application/rss+xml"/>`+"\n", escapeXML(selfLink))
	fmt.Fprintf(&b, "<lastBuildDate>%s</lastBuildDate>\n", now.UTC().Format(time.RFC1123Z))
	fmt.Fprintf(&b, "<ttl>%d</ttl>\n", feedTTLMinutes)
	if r.language != "" {
		fmt.Fprintf(&b, "<language>%s</language>\n", escapeXML(r.language))
	}
	fmt.Fprintf(&b, "<generator>%s</generator>\n", escapeXML(generatorName))

	b.WriteString(items)
	b.WriteString("</channel>\n</rss>\n")
	return b.String()
}

func (r *Renderer) writeMovieItem(b *bytes.Buffer, m Movie, now time.Time) {
	b.WriteString("<item>\n")

	title := m.Title
	if m.Year != nil {
		title = fmt.Sprintf("%s (%d)", m.Title, *m.Year)
	}
	fmt.Fprintf(b, "<title>%s</title>\n", escapeXML(title))

	fmt.Fprintf(b, "<description>%s</description>\n", escapeXML(r.itemDescription(m)))
	fmt.Fprintf(b, `<guid isPermaLink="false">%s</guid>`+"\n", escapeXML(m.IMDBID))
	fmt.Fprintf(b, "<link>https://www.imdb.com/title/%s/</link>\n", escapeXML(m.IMDBID))
	fmt.Fprintf(b, "<pubDate>%s</pubDate>\n", publishDate(m, now))

	for _, src := range m.Sources {
		if src.PersonName != "" {
			fmt.Fprintf(b, "<category>%s</category>\n", escapeXML(src.PersonName))
		}
	}
	fmt.Fprintf(b, "<category>Movies</category>\n")

	if m.VoteAverage != nil {
		fmt.Fprintf(b, "<helparr:rating>%.1f</helparr:rating>\n", *m.VoteAverage)
	}
	if len(m.Genres) > 0 {
		fmt.Fprintf(b, "<helparr:genres>%s</helparr:genres>\n", escapeXML(strings.Join(m.Genres, ", ")))
	}
	if m.Runtime != nil {
		fmt.Fprintf(b, "<helparr:runtime>%d</helparr:runtime>\n", *m.Runtime)
	}

	b.WriteString("</item>\n")
}

func (r *Renderer) writeNoticeItem(b *bytes.Buffer, title, description, guid string, now time.Time) {
	b.WriteString("<item>\n")
	fmt.Fprintf(b, "<title>%s</title>\n", escapeXML(title))
	fmt.Fprintf(b, "<description>%s</description>\n", escapeXML(description))
	fmt.Fprintf(b, `<guid isPermaLink="false">%s</guid>`+"\n", escapeXML(guid))
	fmt.Fprintf(b, "<link>%s</link>\n", escapeXML(r.baseURL))
	fmt.Fprintf(b, "<pubDate>%s</pubDate>\n", now.UTC().Format(time.RFC1123Z))
	b.WriteString("</item>\n")
}

// itemDescription combines the truncated overview with a human-readable
// attribution line built from sources.
func (r *Renderer) itemDescription(m Movie) string {
	parts := make([]string, 0, 2)
	if m.Overview != "" {
		parts = append(parts, truncate(m.Overview, r.overview))
	}
	if attribution := attributionLine(m.Sources); attribution != "" {
		parts = append(parts, attribution)
	}
	if len(parts) == 0 {
		return "No overview available."
	}
	return strings.Join(parts, " ")
}

func attributionLine(sources []Source) string {
	if len(sources) == 0 {
		return ""
	}
	names := make([]string, 0, len(sources))
	for _, src := range sources {
		if src.PersonName == "" {
			continue
		}
		if src.RoleType != "" {
			names = append(names, fmt.Sprintf("%s (%s)", src.PersonName, src.RoleType))
		} else {
			names = append(names, src.PersonName)
		}
	}
	if len(names) == 0 {
		return ""
	}
	return "Added from: " + strings.Join(names, ", ")
}

// publishDate derives the item date from the release date, or now when it is
// absent or unparseable.
func publishDate(m Movie, now time.Time) string {
	if m.ReleaseDate != "" {
		if t, err := time.Parse("2006-01-02", m.ReleaseDate); err == nil {
			return t.UTC().Format(time.RFC1123Z)
		}
	}
	return now.UTC().Format(time.RFC1123Z)
}

// hasExtensions reports whether any movie emits a helparr extension field, in
// which case the document declares the helparr namespace.
func hasExtensions(movies []Movie) bool {
	for _, m := range movies {
		if m.VoteAverage != nil || m.Runtime != nil || len(m.Genres) > 0 {
			return true
		}
	}
	return false
}

// renderTemplate executes a channel template, degrading to the fallback when
// execution fails so the feed itself never does.
func (r *Renderer) renderTemplate(tmpl *template.Template, data ChannelData, fallback string) string {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return fallback
	}
	out := strings.TrimSpace(buf.String())
	if out == "" {
		return fallback
	}
	return out
}
