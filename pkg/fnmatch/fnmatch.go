// Package fnmatch implements shell style patterns where * also matches path
// separators, so "cache/*" excludes everything below cache/.
//
// Patterns:
//
//	pattern  meaning
//	*        any run of characters, including /
//	?        any single character
//	[seq]    any character in seq
//	[!seq]   any character not in seq
//
// Pattern translation follows CPython's fnmatch.translate, Copyright Python
// Software Foundation, used under the PSF License.
package fnmatch

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
)

var patternCache sync.Map

// Match tests whether name matches the shell pattern. Matching is
// case-sensitive.
func Match(pattern, name string) (bool, error) {
	re, err := compile(pattern)
	if err != nil {
		return false, err
	}
	return re.MatchString(name), nil
}

// MatchAny reports whether name matches any of the patterns.
func MatchAny(patterns []string, name string) (bool, error) {
	for _, pattern := range patterns {
		ok, err := Match(pattern, name)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// Validate compiles every pattern and reports the first bad one.
func Validate(patterns []string) error {
	for _, pattern := range patterns {
		if _, err := compile(pattern); err != nil {
			return err
		}
	}
	return nil
}

func compile(pattern string) (*regexp.Regexp, error) {
	if cached, ok := patternCache.Load(pattern); ok {
		return cached.(*regexp.Regexp), nil
	}

	re, err := regexp.Compile(Translate(pattern))
	if err != nil {
		return nil, fmt.Errorf("failed to compile pattern %q: %w", pattern, err)
	}

	patternCache.Store(pattern, re)
	return re, nil
}

// Translate converts a shell pattern to an anchored regular expression.
func Translate(pattern string) string {
	var b strings.Builder
	b.WriteString("(?s:^")

	for i := 0; i < len(pattern); {
		c := pattern[i]
		i++

		switch c {
		case '*':
			for i < len(pattern) && pattern[i] == '*' {
				i++
			}
			b.WriteString(".*")
		case '?':
			b.WriteByte('.')
		case '[':
			end := classEnd(pattern, i)
			if end < 0 {
				b.WriteString(`\[`)
				continue
			}
			writeClass(&b, pattern[i:end])
			i = end + 1
		default:
			b.WriteString(regexp.QuoteMeta(string(c)))
		}
	}

	b.WriteString("$)")
	return b.String()
}

// classEnd returns the index of the ']' closing a class that starts at i, or
// -1 when the class is unterminated. A ']' right after '[' or '[!' is literal.
func classEnd(pattern string, i int) int {
	j := i
	if j < len(pattern) && pattern[j] == '!' {
		j++
	}
	if j < len(pattern) && pattern[j] == ']' {
		j++
	}
	for j < len(pattern) && pattern[j] != ']' {
		j++
	}
	if j >= len(pattern) {
		return -1
	}
	return j
}

func writeClass(b *strings.Builder, class string) {
	b.WriteByte('[')
	if class[0] == '!' {
		b.WriteByte('^')
		class = class[1:]
	}
	for k := 0; k < len(class); k++ {
		if class[k] == '\\' || class[k] == ']' {
			b.WriteByte('\\')
		}
		b.WriteByte(class[k])
	}
	b.WriteByte(']')
}
