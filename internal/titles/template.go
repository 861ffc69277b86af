// Package titles holds the canonical issue-title template. Rendering and
// parsing are two views of one compiled template, so a title written by the
// reconciler is always recognized later by the matcher; there is no second,
// drifting definition of "our" title format.
package titles

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/xkilldash9x/vulnsync-cli/api/schemas"
)

// placeholderPattern matches `{name}`, or `{name:0N}` for zero-padded counts.
var placeholderPattern = regexp.MustCompile(`\{(repository|critical|high|medium|low)(?::0(\d+))?\}`)

// severityByPlaceholder maps count placeholder names onto severity levels.
var severityByPlaceholder = map[string]schemas.Severity{
	"critical": schemas.SeverityCritical,
	"high":     schemas.SeverityHigh,
	"medium":   schemas.SeverityMedium,
	"low":      schemas.SeverityLow,
}

// segment is one compiled piece of the template: either a literal run or a
// placeholder with its pad width.
type segment struct {
	literal     string
	placeholder string // empty for literals
	width       int    // zero-pad width for count placeholders; 0 = none
}

// Template is a compiled title template. It is immutable and safe for
// concurrent use.
type Template struct {
	raw      string
	segments []segment
	pattern  *regexp.Regexp
}

// Parsed is the result of recognizing a rendered title.
type Parsed struct {
	Repository string
	Counts     map[schemas.Severity]int
}

// New compiles a title format string. The format must contain {repository}
// exactly once; count placeholders are optional but may not repeat.
func New(format string) (*Template, error) {
	if format == "" {
		return nil, fmt.Errorf("title format must not be empty")
	}

	seen := make(map[string]bool)
	var segments []segment
	var pattern strings.Builder
	pattern.WriteString(`^`)

	last := 0
	for _, loc := range placeholderPattern.FindAllStringSubmatchIndex(format, -1) {
		if lit := format[last:loc[0]]; lit != "" {
			segments = append(segments, segment{literal: lit})
			pattern.WriteString(regexp.QuoteMeta(lit))
		}
		name := format[loc[2]:loc[3]]
		if seen[name] {
			return nil, fmt.Errorf("placeholder {%s} appears more than once", name)
		}
		seen[name] = true

		width := 0
		if loc[4] >= 0 {
			width, _ = strconv.Atoi(format[loc[4]:loc[5]])
		}
		segments = append(segments, segment{placeholder: name, width: width})

		if name == "repository" {
			// Non-greedy so a trailing literal delimits the key exactly.
			pattern.WriteString(`(?P<repository>.+?)`)
		} else {
			pattern.WriteString(`(?P<` + name + `>\d+)`)
		}
		last = loc[1]
	}
	if lit := format[last:]; lit != "" {
		segments = append(segments, segment{literal: lit})
		pattern.WriteString(regexp.QuoteMeta(lit))
	}
	pattern.WriteString(`$`)

	if !seen["repository"] {
		return nil, fmt.Errorf("title format must contain {repository}")
	}

	re, err := regexp.Compile(pattern.String())
	if err != nil {
		return nil, fmt.Errorf("title format does not compile: %w", err)
	}

	return &Template{raw: format, segments: segments, pattern: re}, nil
}

// Render produces the canonical title for a repository and its current
// severity counts. Rendering the same inputs always yields the same string.
func (t *Template) Render(repository string, counts map[schemas.Severity]int) string {
	var b strings.Builder
	for _, seg := range t.segments {
		switch {
		case seg.placeholder == "":
			b.WriteString(seg.literal)
		case seg.placeholder == "repository":
			b.WriteString(repository)
		default:
			n := counts[severityByPlaceholder[seg.placeholder]]
			if seg.width > 0 {
				fmt.Fprintf(&b, "%0*d", seg.width, n)
			} else {
				b.WriteString(strconv.Itoa(n))
			}
		}
	}
	return b.String()
}

// Parse recognizes a title rendered by this template and extracts the
// repository key and counts. The second return value is false when the title
// does not match, which callers must treat as "not owned by the automation".
func (t *Template) Parse(title string) (Parsed, bool) {
	m := t.pattern.FindStringSubmatch(title)
	if m == nil {
		return Parsed{}, false
	}

	parsed := Parsed{Counts: make(map[schemas.Severity]int)}
	for i, name := range t.pattern.SubexpNames() {
		if i == 0 || name == "" {
			continue
		}
		if name == "repository" {
			parsed.Repository = m[i]
			continue
		}
		n, err := strconv.Atoi(m[i])
		if err != nil {
			return Parsed{}, false
		}
		parsed.Counts[severityByPlaceholder[name]] = n
	}
	return parsed, true
}

// String returns the original format string.
func (t *Template) String() string {
	return t.raw
}
