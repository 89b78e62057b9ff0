// Package parser turns raw markdown files into pages: frontmatter, tags and wikilinks.
package parser

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/spf13/cast"
	"gopkg.in/yaml.v3"

	"github.com/maxthraxx/chronicler/internal/apperr"
	"github.com/maxthraxx/chronicler/internal/models"
)

// WikilinkRe matches [[target#section|alias]]. Groups: 1 target, 2 section, 3 alias.
var WikilinkRe = regexp.MustCompile(`\[\[([^\[\]\|#]+)(?:#([^\[\]\|]+))?(?:\|([^\[\]]+))?\]\]`)

var tagRe = regexp.MustCompile(`(?:^|\s)#([A-Za-z][A-Za-z0-9_/-]*)`)

// FrontmatterError reports a metadata block that is not valid YAML mapping.
type FrontmatterError struct {
	Path string
	Err  error
}

func (e *FrontmatterError) Error() string {
	return fmt.Sprintf("parser: frontmatter %s: %v", e.Path, e.Err)
}

func (e *FrontmatterError) Unwrap() error { return e.Err }

// ParseFile reads and parses the markdown file at path. Files larger than
// maxSize fail with *apperr.FileTooLargeError without being read; a
// non-positive maxSize disables the check.
func ParseFile(path string, maxSize int64) (*models.Page, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("parser: stat: %w", err)
	}
	if maxSize > 0 && info.Size() > maxSize {
		return nil, &apperr.FileTooLargeError{Path: path, Size: info.Size(), Max: maxSize}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("parser: read: %w", err)
	}
	return Parse(path, data)
}

// Parse builds a Page for path from its raw content.
func Parse(path string, data []byte) (*models.Page, error) {
	content := string(data)
	fmText, body := ExtractFrontmatter(content)

	fm, err := ParseFrontmatter(fmText)
	if err != nil {
		return nil, &FrontmatterError{Path: path, Err: err}
	}

	return &models.Page{
		Path:        path,
		Title:       deriveTitle(fm, path),
		Tags:        extractTags(fm, body),
		Links:       ExtractWikilinks(content),
		Backlinks:   []string{},
		Frontmatter: fm,
	}, nil
}

// Stub returns the placeholder page used when a file cannot be parsed.
func Stub(path string) *models.Page {
	return &models.Page{
		Path:      path,
		Title:     Stem(path),
		Tags:      []string{},
		Links:     []models.Link{},
		Backlinks: []string{},
	}
}

// ExtractFrontmatter splits content into its leading metadata block and the
// body. The block must open with a "---" line at the very start and close
// with a "---" line; otherwise the whole content is body.
func ExtractFrontmatter(content string) (frontmatter, body string) {
	rest, ok := strings.CutPrefix(content, "---\n")
	if !ok {
		if rest, ok = strings.CutPrefix(content, "---\r\n"); !ok {
			return "", content
		}
	}

	var fm, after string
	if tail, ok := strings.CutPrefix(rest, "---"); ok && closesLine(tail) {
		// Empty block: the closing line follows the opening one.
		after = tail
	} else {
		idx := strings.Index(rest, "\n---")
		if idx < 0 {
			return "", content
		}
		fm, after = rest[:idx], rest[idx+len("\n---"):]
	}
	switch {
	case after == "":
	case strings.HasPrefix(after, "\n"):
		after = after[1:]
	case strings.HasPrefix(after, "\r\n"):
		after = after[2:]
	default:
		return "", content
	}
	return strings.TrimSuffix(fm, "\r"), after
}

func closesLine(s string) bool {
	return s == "" || strings.HasPrefix(s, "\n") || strings.HasPrefix(s, "\r\n")
}

// ParseFrontmatter decodes a metadata block. An empty block yields nil.
func ParseFrontmatter(text string) (map[string]any, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	var fm map[string]any
	if err := yaml.Unmarshal([]byte(text), &fm); err != nil {
		return nil, err
	}
	return fm, nil
}

// ExtractWikilinks returns every wikilink in content in document order,
// duplicates included.
func ExtractWikilinks(content string) []models.Link {
	matches := WikilinkRe.FindAllStringSubmatchIndex(content, -1)
	links := make([]models.Link, 0, len(matches))

	line, lineStart, scanned := 1, 0, 0
	for _, m := range matches {
		for i := scanned; i < m[0]; i++ {
			if content[i] == '\n' {
				line++
				lineStart = i + 1
			}
		}
		scanned = m[0]

		link := models.Link{
			Target: content[m[2]:m[3]],
			Position: &models.LinkPosition{
				Line:   line,
				Column: utf8.RuneCountInString(content[lineStart:m[0]]) + 1,
			},
		}
		if m[4] >= 0 {
			link.Section = content[m[4]:m[5]]
		}
		if m[6] >= 0 {
			link.Alias = content[m[6]:m[7]]
		}
		links = append(links, link)
	}
	return links
}

// RewriteWikilinks replaces the target of every wikilink naming oldStem
// (case-insensitive) with newStem, keeping section and alias verbatim.
// It reports whether content changed.
func RewriteWikilinks(content, oldStem, newStem string) (string, bool) {
	want := NormalizeTarget(oldStem)
	changed := false
	out := WikilinkRe.ReplaceAllStringFunc(content, func(match string) string {
		sub := WikilinkRe.FindStringSubmatch(match)
		if NormalizeTarget(sub[1]) != want {
			return match
		}
		var b strings.Builder
		b.WriteString("[[")
		b.WriteString(newStem)
		if sub[2] != "" {
			b.WriteString("#")
			b.WriteString(sub[2])
		}
		if sub[3] != "" {
			b.WriteString("|")
			b.WriteString(sub[3])
		}
		b.WriteString("]]")
		if b.String() != match {
			changed = true
		}
		return b.String()
	})
	return out, changed
}

// NormalizeTarget is the key under which link targets and page stems meet.
func NormalizeTarget(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func deriveTitle(fm map[string]any, path string) string {
	if fm != nil {
		if t := strings.TrimSpace(cast.ToString(fm["title"])); t != "" {
			return t
		}
	}
	return Stem(path)
}

// extractTags collects frontmatter tags and inline #tags, deduplicated in
// first-seen order.
func extractTags(fm map[string]any, body string) []string {
	seen := make(map[string]struct{})
	out := []string{}
	add := func(tag string) {
		tag = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(tag), "#"))
		if tag == "" {
			return
		}
		if _, dup := seen[tag]; dup {
			return
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}

	if fm != nil {
		switch raw := fm["tags"].(type) {
		case nil:
		case string:
			for _, t := range strings.Split(raw, ",") {
				add(t)
			}
		default:
			for _, t := range cast.ToStringSlice(raw) {
				add(t)
			}
		}
	}

	for _, m := range tagRe.FindAllStringSubmatch(body, -1) {
		add(m[1])
	}
	return out
}
