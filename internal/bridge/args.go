package bridge

import (
	"fmt"
	"maps"
	"regexp"
	"slices"
	"strings"
	"unicode/utf8"
)

var (
	keyPattern       = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_-]*$`)
	operationPattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_-]*$`)
)

// Request is one named operation with its keyword arguments.
type Request struct {
	Operation string
	Arguments map[string]string
}

// Validate checks the operation name and every argument key.
func (r Request) Validate() error {
	if !operationPattern.MatchString(r.Operation) {
		return fmt.Errorf("%w: operation name %q", ErrInvalidRequest, r.Operation)
	}
	for k := range r.Arguments {
		if !keyPattern.MatchString(k) {
			return fmt.Errorf("%w: argument key %q", ErrInvalidRequest, k)
		}
	}
	return nil
}

// Tokens renders the arguments as "--key", "value" pairs in sorted key order.
func (r Request) Tokens() []string {
	keys := slices.Sorted(maps.Keys(r.Arguments))
	out := make([]string, 0, 2*len(keys))
	for _, k := range keys {
		out = append(out, "--"+k, r.Arguments[k])
	}
	return out
}

// BatchQuote wraps s in double quotes for a cmd.exe batch line. Embedded
// quotes are doubled and percent signs escaped so variable expansion cannot
// rewrite the value.
func BatchQuote(s string) string {
	s = strings.ReplaceAll(s, `"`, `""`)
	s = strings.ReplaceAll(s, `%`, `%%`)
	return `"` + s + `"`
}

// BatchLine joins argv into one quoted batch command line.
func BatchLine(argv []string) string {
	quoted := make([]string, len(argv))
	for i, a := range argv {
		quoted[i] = BatchQuote(a)
	}
	return strings.Join(quoted, " ")
}

// tail keeps at most limit bytes from the end of s without splitting a rune.
func tail(s string, limit int) string {
	s = strings.TrimSpace(s)
	if limit <= 0 || len(s) <= limit {
		return s
	}
	s = s[len(s)-limit:]
	for len(s) > 0 && !utf8.RuneStart(s[0]) {
		s = s[1:]
	}
	return s
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[i+1:])
	}
	return s
}
