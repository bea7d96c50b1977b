package gate

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	"zonegate/pkg/domain"
)

// PatternType represents the type of exemption pattern
type PatternType int

const (
	// PatternTypeExact matches exact hostnames (e.g., cdn.example.com)
	PatternTypeExact PatternType = iota
	// PatternTypeWildcard matches wildcard patterns (e.g., *.example.com)
	PatternTypeWildcard
	// PatternTypeRegex matches regex patterns (e.g., (\.|^)example\.com$)
	PatternTypeRegex
)

// String returns a human-readable name for the pattern type
func (pt PatternType) String() string {
	switch pt {
	case PatternTypeExact:
		return "exact"
	case PatternTypeWildcard:
		return "wildcard"
	case PatternTypeRegex:
		return "regex"
	default:
		return "unknown"
	}
}

// Pattern represents an exemption pattern
type Pattern struct {
	Raw      string
	Type     PatternType
	Compiled *regexp.Regexp // only for regex patterns
}

// isRegexPattern detects if a pattern contains regex metacharacters
func isRegexPattern(pattern string) bool {
	regexChars := []string{
		"(", ")", "[", "]", "{", "}",
		"^", "$", "|", "\\",
		"+", "?",
	}
	for _, char := range regexChars {
		if strings.Contains(pattern, char) {
			return true
		}
	}
	return strings.Contains(pattern, ".*") || strings.Contains(pattern, ".+")
}

// ParsePattern parses a pattern string, detecting whether it is exact,
// wildcard, or regex
func ParsePattern(pattern string) (*Pattern, error) {
	if pattern == "" {
		return nil, fmt.Errorf("empty pattern")
	}

	if strings.HasPrefix(pattern, "*.") {
		return &Pattern{
			Raw:  strings.ToLower(pattern),
			Type: PatternTypeWildcard,
		}, nil
	}

	if isRegexPattern(pattern) {
		compiled, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid regex pattern %q: %w", pattern, err)
		}
		return &Pattern{
			Raw:      pattern,
			Type:     PatternTypeRegex,
			Compiled: compiled,
		}, nil
	}

	return &Pattern{
		Raw:  domain.Normalize(pattern),
		Type: PatternTypeExact,
	}, nil
}

// Match checks if a hostname matches this pattern. The hostname must
// already be normalized.
func (p *Pattern) Match(hostname string) bool {
	switch p.Type {
	case PatternTypeExact:
		return hostname == p.Raw
	case PatternTypeWildcard:
		// *.example.com matches foo.example.com but not example.com or
		// notexample.com; the match must land on a label boundary
		suffix := strings.TrimPrefix(p.Raw, "*.")
		return strings.HasSuffix(hostname, "."+suffix)
	case PatternTypeRegex:
		if p.Compiled == nil {
			return false
		}
		return p.Compiled.MatchString(hostname)
	}
	return false
}

// ExemptList holds the exemption patterns checked before any lookup.
// A matching hostname is always allowed.
type ExemptList struct {
	mu       sync.RWMutex
	patterns []*Pattern
}

// NewExemptList parses the configured patterns into a list
func NewExemptList(raw []string) (*ExemptList, error) {
	l := &ExemptList{}
	if err := l.Reload(raw); err != nil {
		return nil, err
	}
	return l, nil
}

// Reload replaces the pattern set atomically. On parse failure the old
// patterns stay in effect.
func (l *ExemptList) Reload(raw []string) error {
	parsed := make([]*Pattern, 0, len(raw))
	for _, r := range raw {
		p, err := ParsePattern(r)
		if err != nil {
			return err
		}
		parsed = append(parsed, p)
	}

	l.mu.Lock()
	l.patterns = parsed
	l.mu.Unlock()
	return nil
}

// Match reports whether hostname matches any exemption pattern
func (l *ExemptList) Match(hostname string) bool {
	l.mu.RLock()
	patterns := l.patterns
	l.mu.RUnlock()

	for _, p := range patterns {
		if p.Match(hostname) {
			return true
		}
	}
	return false
}

// Len returns the number of loaded patterns
func (l *ExemptList) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.patterns)
}
