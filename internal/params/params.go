// Package params extracts named values from command responses and
// substitutes {name} placeholders into later command text.
package params

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/ethpandaops/atrunner/internal/testcase"
)

var (
	// ErrMalformedParameter means an extraction pattern did not parse the
	// response. It is logged by callers and never fails a run.
	ErrMalformedParameter = errors.New("malformed parameter")

	errNoNamedGroups = errors.New("pattern has no named groups")
	errNoMatch       = errors.New("pattern did not match response")
	errGroupMissing  = errors.New("named group did not participate in match")
)

var patternCache sync.Map // map[string]*regexp.Regexp

func compile(pattern string) (*regexp.Regexp, error) {
	if re, ok := patternCache.Load(pattern); ok {
		return re.(*regexp.Regexp), nil //nolint:errcheck // only *regexp.Regexp is stored
	}

	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}

	patternCache.Store(pattern, re)

	return re, nil
}

// Names returns the named groups of an extraction pattern in the order they
// appear.
func Names(pattern string) ([]string, error) {
	re, err := compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("%w: compiling %q: %w", ErrMalformedParameter, pattern, err)
	}

	names := make([]string, 0, re.NumSubexp())
	for _, n := range re.SubexpNames() {
		if n != "" {
			names = append(names, n)
		}
	}

	return names, nil
}

// Extract applies pattern to response and stores every named group in ctx.
// Either all named groups are stored or none are.
func Extract(pattern string, response []byte, ctx *testcase.ExecutionContext) (map[string]string, error) {
	re, err := compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("%w: compiling %q: %w", ErrMalformedParameter, pattern, err)
	}

	names := re.SubexpNames()
	named := 0
	for _, n := range names {
		if n != "" {
			named++
		}
	}

	if named == 0 {
		return nil, fmt.Errorf("%w: %w", ErrMalformedParameter, errNoNamedGroups)
	}

	idx := re.FindSubmatchIndex(response)
	if idx == nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedParameter, errNoMatch)
	}

	values := make(map[string]string, named)
	for i, name := range names {
		if name == "" {
			continue
		}

		start, end := idx[2*i], idx[2*i+1]
		if start < 0 {
			return nil, fmt.Errorf("%w: %w: %s", ErrMalformedParameter, errGroupMissing, name)
		}

		values[name] = strings.TrimSpace(string(response[start:end]))
	}

	ctx.SetParams(values)

	return values, nil
}

// Resolve substitutes {name} placeholders in a single left-to-right pass.
// Unknown names are left as written and substituted values are never
// rescanned.
func Resolve(text string, values map[string]string) string {
	if !strings.Contains(text, "{") {
		return text
	}

	var b strings.Builder
	b.Grow(len(text))

	for i := 0; i < len(text); {
		open := strings.IndexByte(text[i:], '{')
		if open < 0 {
			b.WriteString(text[i:])
			break
		}

		open += i
		b.WriteString(text[i:open])

		end := strings.IndexByte(text[open+1:], '}')
		if end < 0 {
			b.WriteString(text[open:])
			break
		}

		end += open + 1
		name := text[open+1 : end]

		if v, ok := values[name]; ok && validName(name) {
			b.WriteString(v)
			i = end + 1
			continue
		}

		// Not a placeholder we know: emit the brace and rescan after it, so
		// "{{name}" still resolves the inner token.
		b.WriteByte('{')
		i = open + 1
	}

	return b.String()
}

// Placeholders lists the placeholder names referenced by text, in order of
// first appearance.
func Placeholders(text string) []string {
	var (
		out  []string
		seen = make(map[string]bool)
	)

	for i := 0; i < len(text); {
		open := strings.IndexByte(text[i:], '{')
		if open < 0 {
			break
		}

		open += i
		end := strings.IndexByte(text[open+1:], '}')
		if end < 0 {
			break
		}

		end += open + 1
		name := text[open+1 : end]

		if validName(name) {
			if !seen[name] {
				seen[name] = true
				out = append(out, name)
			}
			i = end + 1
			continue
		}

		i = open + 1
	}

	return out
}

func validName(name string) bool {
	if name == "" {
		return false
	}

	for _, r := range name {
		switch {
		case r == '_' || r == '-' || r == '.':
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		default:
			return false
		}
	}

	return true
}
