// Package blur implements the rule-based annotation matcher for feed items.
// Rules come from a plain text file, one "attr: pattern" per line, and a
// positive match means the caller should flag the item for client-side blur.
package blur

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"

	"github.com/umputun/myfeed/pkg/domain"
)

// Attr selects which item attribute a rule is tested against and whether the
// pattern is a glob or a regular expression.
type Attr string

// supported rule attributes
const (
	AttrID         Attr = "id"
	AttrTitle      Attr = "title"
	AttrImage      Attr = "image_url"
	AttrIDRegex    Attr = "id_regex"
	AttrTitleRegex Attr = "title_regex"
	AttrImageRegex Attr = "image_url_regex"
)

// Rule is a single pattern tested against one item attribute.
type Rule struct {
	Attr    Attr
	Pattern string
	re      *regexp.Regexp // compiled form, globs are translated at parse time
}

// String renders the rule in its file format.
func (r Rule) String() string { return fmt.Sprintf("%s: %s", r.Attr, r.Pattern) }

// Set is a parsed collection of rules combined as a logical OR.
type Set struct {
	rules []Rule
}

// ParseFile reads rules from a file path.
func ParseFile(path string) (*Set, error) {
	f, err := os.Open(path) //nolint:gosec // file path comes from CLI flag
	if err != nil {
		return nil, fmt.Errorf("open blur file: %w", err)
	}
	defer f.Close()
	set, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("parse blur file %s: %w", path, err)
	}
	return set, nil
}

// Parse reads rules from r, skipping blank lines.
func Parse(r io.Reader) (*Set, error) {
	set := &Set{}
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		rule, err := parseRule(line)
		if err != nil {
			return nil, err
		}
		set.rules = append(set.rules, rule)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read rules: %w", err)
	}
	return set, nil
}

// Rules returns the parsed rules, for logging.
func (s *Set) Rules() []Rule {
	if s == nil {
		return nil
	}
	return s.rules
}

// Match reports whether any rule matches the item. It is a pure predicate,
// flagging the item is the caller's job. Rules targeting an absent attribute
// are skipped.
func (s *Set) Match(item *domain.FeedItem) bool {
	if s == nil {
		return false
	}
	for _, rule := range s.rules {
		var val string
		switch rule.Attr {
		case AttrID, AttrIDRegex:
			val = item.ID
		case AttrTitle, AttrTitleRegex:
			val = item.Title
		case AttrImage, AttrImageRegex:
			if item.ImageURL == nil {
				continue
			}
			val = *item.ImageURL
		}
		if rule.re.MatchString(val) {
			return true
		}
	}
	return false
}

func parseRule(line string) (Rule, error) {
	attr, pattern, found := strings.Cut(line, ":")
	if !found {
		return Rule{}, fmt.Errorf("rule %q has no attribute separator", line)
	}
	pattern = strings.TrimSpace(pattern)
	if pattern == "" {
		return Rule{}, fmt.Errorf("rule %q has an empty pattern", line)
	}

	rule := Rule{Attr: Attr(strings.ToLower(strings.TrimSpace(attr))), Pattern: pattern}
	var expr string
	switch rule.Attr {
	case AttrID, AttrTitle, AttrImage:
		expr = globToRegexp(pattern)
	case AttrIDRegex, AttrTitleRegex, AttrImageRegex:
		expr = pattern // regex rules search, not anchor
	default:
		return Rule{}, fmt.Errorf("rule %q has unknown attribute %q", line, rule.Attr)
	}

	re, err := regexp.Compile(expr)
	if err != nil {
		return Rule{}, fmt.Errorf("rule %q: %w", line, err)
	}
	rule.re = re
	return rule, nil
}

// globToRegexp translates a shell-style glob to an anchored regexp. Unlike
// path.Match the star crosses "/" so globs work on full URLs.
func globToRegexp(glob string) string {
	var b strings.Builder
	b.WriteString("^")
	for _, r := range glob {
		switch r {
		case '*':
			b.WriteString(".*")
		case '?':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString("$")
	return b.String()
}
