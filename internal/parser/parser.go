// Package parser reads Markdown capsule exports: YAML frontmatter, wikilinks
// to other capsules, and tags.
package parser

import (
	"bytes"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/starford/guardian/internal/apperr"
	"github.com/starford/guardian/internal/models"
)

var (
	wikilinkRe = regexp.MustCompile(`\[\[(.*?)\]\]`)
	tagRe      = regexp.MustCompile(`(?:^|\s)#([A-Za-z][A-Za-z0-9_/-]*)`)
)

// Metadata keys filled from the document body.
const (
	MetaTags  = "tags"
	MetaLinks = "links"
)

// Result holds the output of parsing a Markdown file.
type Result struct {
	Frontmatter map[string]interface{}
	Body        string
	Links       []string
	Tags        []string
	Title       string
}

// Parse extracts frontmatter, body, wikilinks, and tags from raw Markdown bytes.
func Parse(data []byte) (*Result, error) {
	fm, _, body, err := splitFrontmatter(data)
	if err != nil {
		return nil, err
	}

	return &Result{
		Frontmatter: fm,
		Body:        body,
		Links:       extractLinks(body),
		Tags:        extractTags(body, fm),
		Title:       deriveTitle(fm, body),
	}, nil
}

// capsuleFrontmatter is the typed view of a capsule export's frontmatter.
type capsuleFrontmatter struct {
	ID         string            `yaml:"id"`
	Title      string            `yaml:"title"`
	Type       string            `yaml:"type"`
	GriefScore float64           `yaml:"grief_score"`
	Timestamp  interface{}       `yaml:"timestamp"`
	Metadata   map[string]string `yaml:"metadata"`
}

// ParseCapsule converts a Markdown capsule export into a snapshot record.
// fallbackID is used when the frontmatter has no id, and fallbackTime when it
// has no timestamp. Tags and wikilinks are recorded as comma-separated
// metadata values.
func ParseCapsule(data []byte, fallbackID string, fallbackTime time.Time) (models.CapsuleBackup, error) {
	fm, block, body, err := splitFrontmatter(data)
	if err != nil {
		return models.CapsuleBackup{}, err
	}

	var typed capsuleFrontmatter
	if fm != nil {
		if err := yaml.Unmarshal(block, &typed); err != nil {
			return models.CapsuleBackup{}, fmt.Errorf("%w: capsule frontmatter: %v", apperr.ErrInvalidInput, err)
		}
	}

	c := models.CapsuleBackup{
		ID:         strings.TrimSpace(typed.ID),
		Title:      deriveTitle(fm, body),
		Type:       typed.Type,
		GriefScore: typed.GriefScore,
		Timestamp:  fallbackTime.UnixMilli(),
	}
	if c.ID == "" {
		c.ID = fallbackID
	}
	if c.ID == "" {
		return models.CapsuleBackup{}, fmt.Errorf("%w: capsule has no id", apperr.ErrInvalidInput)
	}
	if typed.Timestamp != nil {
		ts, err := parseTimestamp(typed.Timestamp)
		if err != nil {
			return models.CapsuleBackup{}, fmt.Errorf("%w: capsule %s: %v", apperr.ErrInvalidInput, c.ID, err)
		}
		c.Timestamp = ts
	}

	meta := make(map[string]string, len(typed.Metadata)+2)
	for k, v := range typed.Metadata {
		meta[k] = v
	}
	if tags := extractTags(body, fm); len(tags) > 0 {
		meta[MetaTags] = strings.Join(tags, ",")
	}
	if links := extractLinks(body); len(links) > 0 {
		meta[MetaLinks] = strings.Join(links, ",")
	}
	if len(meta) > 0 {
		c.Metadata = meta
	}
	return c, nil
}

// parseTimestamp accepts Unix milliseconds or an RFC 3339 / YAML timestamp.
func parseTimestamp(v interface{}) (int64, error) {
	switch t := v.(type) {
	case int:
		return int64(t), nil
	case int64:
		return t, nil
	case float64:
		return int64(t), nil
	case time.Time:
		return t.UnixMilli(), nil
	case string:
		if ms, err := strconv.ParseInt(t, 10, 64); err == nil {
			return ms, nil
		}
		parsed, err := time.Parse(time.RFC3339, t)
		if err != nil {
			return 0, fmt.Errorf("timestamp %q: %w", t, err)
		}
		return parsed.UnixMilli(), nil
	}
	return 0, fmt.Errorf("unsupported timestamp %v", v)
}

// splitFrontmatter separates YAML frontmatter (between leading --- delimiters)
// from the Markdown body. If no frontmatter is found the entire content is body.
func splitFrontmatter(data []byte) (map[string]interface{}, []byte, string, error) {
	const delim = "---"
	trimmed := bytes.TrimLeft(data, "\n\r")

	if !bytes.HasPrefix(trimmed, []byte(delim)) {
		return nil, nil, string(data), nil
	}

	// Find end delimiter.
	rest := trimmed[len(delim):]
	idx := bytes.Index(rest, []byte("\n"+delim))
	if idx < 0 {
		// No closing delimiter, so everything is body.
		return nil, nil, string(data), nil
	}

	yamlBlock := rest[:idx]
	// Body starts after closing delimiter line.
	afterDelim := rest[idx+1+len(delim):]
	body := strings.TrimLeft(string(afterDelim), "\n\r")

	var fm map[string]interface{}
	if err := yaml.Unmarshal(yamlBlock, &fm); err != nil {
		// Invalid YAML: body only, no error.
		return nil, nil, string(data), nil
	}

	return fm, yamlBlock, body, nil
}

// extractLinks returns deduplicated wikilink targets, normalising aliases.
func extractLinks(body string) []string {
	matches := wikilinkRe.FindAllStringSubmatch(body, -1)
	seen := make(map[string]struct{}, len(matches))
	var out []string
	for _, m := range matches {
		raw := m[1]
		// Handle aliases: [[Target|Alias]] → Target.
		target := raw
		if i := strings.Index(raw, "|"); i >= 0 {
			target = raw[:i]
		}
		target = strings.TrimSpace(target)
		if target == "" {
			continue
		}
		if _, ok := seen[target]; ok {
			continue
		}
		seen[target] = struct{}{}
		out = append(out, target)
	}
	return out
}

// extractTags collects #tags from body and from frontmatter "tags" field.
func extractTags(body string, fm map[string]interface{}) []string {
	seen := make(map[string]struct{})
	var out []string

	if fm != nil {
		if raw, ok := fm["tags"].([]interface{}); ok {
			for _, item := range raw {
				s, ok := item.(string)
				if !ok {
					continue
				}
				s = strings.TrimSpace(s)
				if _, dup := seen[s]; s != "" && !dup {
					seen[s] = struct{}{}
					out = append(out, s)
				}
			}
		}
	}

	for _, m := range tagRe.FindAllStringSubmatch(body, -1) {
		t := m[1]
		if _, dup := seen[t]; !dup {
			seen[t] = struct{}{}
			out = append(out, t)
		}
	}

	return out
}

// deriveTitle returns the frontmatter "title" if present, otherwise the first
// H1 heading, otherwise empty string.
func deriveTitle(fm map[string]interface{}, body string) string {
	if fm != nil {
		if s, ok := fm["title"].(string); ok && s != "" {
			return s
		}
	}
	for _, line := range strings.Split(body, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "# ") {
			return strings.TrimSpace(trimmed[2:])
		}
	}
	return ""
}
