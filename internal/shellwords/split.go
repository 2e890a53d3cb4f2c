// Package shellwords splits a command line into arguments using POSIX shell
// quoting rules, without performing any expansion.
package shellwords

import (
	"fmt"
	"strings"
)

// ParseError reports a command line that cannot be tokenized.
type ParseError struct {
	Input  string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("cannot parse command %q: %s", e.Input, e.Reason)
}

// Split tokenizes s the way a POSIX shell would, minus expansion:
//   - unquoted space, tab, CR and LF separate tokens
//   - single quotes group everything literally up to the next single quote
//   - double quotes group, and inside them a backslash escapes only '"' and '\'
//   - outside quotes a backslash escapes the following character
//
// Quotes are removed from the result, and a pair of quotes with nothing between
// them produces an empty argument.
func Split(s string) ([]string, error) {
	var out []string
	var b strings.Builder
	inToken := false
	inQuote := byte(0)
	escaped := false

	flush := func() {
		if inToken {
			out = append(out, b.String())
			b.Reset()
			inToken = false
		}
	}

	for i := 0; i < len(s); i++ {
		c := s[i]
		if escaped {
			if inQuote == '"' && c != '"' && c != '\\' {
				b.WriteByte('\\')
			}
			b.WriteByte(c)
			escaped = false
			continue
		}
		switch inQuote {
		case '\'':
			if c == '\'' {
				inQuote = 0
				continue
			}
			b.WriteByte(c)
			continue
		case '"':
			switch c {
			case '"':
				inQuote = 0
			case '\\':
				escaped = true
			default:
				b.WriteByte(c)
			}
			continue
		}

		switch c {
		case ' ', '\t', '\r', '\n':
			flush()
		case '\\':
			inToken = true
			escaped = true
		case '\'', '"':
			inToken = true
			inQuote = c
		default:
			inToken = true
			b.WriteByte(c)
		}
	}
	if escaped {
		return nil, &ParseError{Input: s, Reason: "trailing escape"}
	}
	if inQuote != 0 {
		return nil, &ParseError{Input: s, Reason: "unterminated quote"}
	}
	flush()
	return out, nil
}

// Join quotes args so that Split(Join(args)) returns args unchanged.
func Join(args []string) string {
	parts := make([]string, 0, len(args))
	for _, a := range args {
		parts = append(parts, Quote(a))
	}
	return strings.Join(parts, " ")
}

// Quote returns a shell-safe representation of s.
func Quote(s string) string {
	if s == "" {
		return "''"
	}
	if !strings.ContainsAny(s, " \t\r\n'\"\\$`;&|<>()*?[]#~!{}") {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}
