package parser

import (
	"errors"
	"testing"
	"time"

	"github.com/starford/guardian/internal/apperr"
)

func TestParse_FrontmatterAndBody(t *testing.T) {
	input := []byte("---\ntitle: Hello\ntags:\n  - go\n  - archive\n---\n# Hello\nBody text.\n")
	r, err := Parse(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Title != "Hello" {
		t.Errorf("title = %q, want %q", r.Title, "Hello")
	}
	if len(r.Tags) < 2 || r.Tags[0] != "go" || r.Tags[1] != "archive" {
		t.Errorf("tags = %v, want [go archive]", r.Tags)
	}
	if r.Body != "# Hello\nBody text.\n" {
		t.Errorf("body = %q", r.Body)
	}
}

func TestParse_NoFrontmatter(t *testing.T) {
	input := []byte("# Just a heading\nSome text.\n")
	r, err := Parse(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Frontmatter != nil {
		t.Errorf("expected nil frontmatter, got %v", r.Frontmatter)
	}
	if r.Title != "Just a heading" {
		t.Errorf("title = %q, want %q", r.Title, "Just a heading")
	}
}

func TestParse_InvalidYAMLFallback(t *testing.T) {
	input := []byte("---\n: invalid: yaml: {{{\n---\nBody\n")
	r, err := Parse(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Invalid YAML falls back to treating everything as body.
	if r.Frontmatter != nil {
		t.Errorf("expected nil frontmatter on invalid YAML")
	}
}

func TestExtractLinks_Basic(t *testing.T) {
	body := "See [[Note A]] and [[Note B|alias]].\nAlso [[Note A]] again."
	links := extractLinks(body)
	if len(links) != 2 {
		t.Fatalf("len(links) = %d, want 2", len(links))
	}
	if links[0] != "Note A" || links[1] != "Note B" {
		t.Errorf("links = %v", links)
	}
}

func TestExtractLinks_EmptyTarget(t *testing.T) {
	links := extractLinks("see [[ ]] and [[|alias]]")
	if len(links) != 0 {
		t.Errorf("expected no links, got %v", links)
	}
}

func TestExtractTags_InlineAndFrontmatter(t *testing.T) {
	fm := map[string]any{
		"tags": []any{"alpha"},
	}
	body := "Some text #beta and #alpha again."
	tags := extractTags(body, fm)
	// alpha from FM, beta from body; alpha not duplicated.
	if len(tags) != 2 || tags[0] != "alpha" || tags[1] != "beta" {
		t.Errorf("tags = %v, want [alpha beta]", tags)
	}
}

func TestDeriveTitle_FrontmatterOverH1(t *testing.T) {
	fm := map[string]any{"title": "FM Title"}
	body := "# H1 Title\ntext"
	title := deriveTitle(fm, body)
	if title != "FM Title" {
		t.Errorf("title = %q, want %q", title, "FM Title")
	}
}

func TestDeriveTitle_H1Fallback(t *testing.T) {
	title := deriveTitle(nil, "some text\n# My Heading\nmore")
	if title != "My Heading" {
		t.Errorf("title = %q, want %q", title, "My Heading")
	}
}

func TestParseCapsule_Frontmatter(t *testing.T) {
	input := []byte("---\nid: cap-7\ntype: letter\ngrief_score: 8.5\ntimestamp: 1700000000000\nmetadata:\n  place: Lisbon\ntags: [family]\n---\n# To my father\nSee [[cap-3]].\n")
	c, err := ParseCapsule(input, "fallback", time.UnixMilli(1))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.ID != "cap-7" || c.Type != "letter" || c.GriefScore != 8.5 || c.Timestamp != 1700000000000 {
		t.Errorf("capsule = %+v", c)
	}
	if c.Title != "To my father" {
		t.Errorf("title = %q, want H1 fallback", c.Title)
	}
	if c.Metadata["place"] != "Lisbon" || c.Metadata[MetaTags] != "family" || c.Metadata[MetaLinks] != "cap-3" {
		t.Errorf("metadata = %v", c.Metadata)
	}
}

func TestParseCapsule_Fallbacks(t *testing.T) {
	mod := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	c, err := ParseCapsule([]byte("Plain memory without heading.\n"), "memory-1", mod)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.ID != "memory-1" || c.Timestamp != mod.UnixMilli() || c.Title != "" || c.Metadata != nil {
		t.Errorf("capsule = %+v", c)
	}
}

func TestParseCapsule_RFC3339Timestamp(t *testing.T) {
	input := []byte("---\nid: cap-1\ntimestamp: \"2024-01-02T03:04:05Z\"\n---\nbody\n")
	c, err := ParseCapsule(input, "", time.Time{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC).UnixMilli()
	if c.Timestamp != want {
		t.Errorf("timestamp = %d, want %d", c.Timestamp, want)
	}
}

func TestParseCapsule_Invalid(t *testing.T) {
	cases := map[string]string{
		"no id":         "no frontmatter here\n",
		"bad grief":     "---\nid: x\ngrief_score: [1, 2]\n---\n",
		"bad timestamp": "---\nid: x\ntimestamp: yesterday\n---\n",
	}
	for name, input := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseCapsule([]byte(input), "", time.Now())
			if !errors.Is(err, apperr.ErrInvalidInput) {
				t.Errorf("err = %v, want ErrInvalidInput", err)
			}
		})
	}
}
