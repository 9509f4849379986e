// Package interpolation expands ${VAR} and ${VAR:default} references in
// configuration values.
package interpolation

import (
	"errors"
	"fmt"
	"os"
	"regexp"
)

// ErrUndefinedVar is returned for a reference with no value and no default.
var ErrUndefinedVar = errors.New("environment variable not defined")

// Captures the name, whether a colon was present, and the default.
var envVarWithDefaultPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:)?([^}]*)\}`)

// LookupFunc resolves a variable name, like os.LookupEnv.
type LookupFunc func(string) (string, bool)

// ExpandEnvVars expands references against the process environment:
//
//	${VAR_NAME:default_value}
//
// A set variable wins, then the default when a colon is present (so ${VAR:}
// expands to ""). Otherwise the reference is left in place and reported.
func ExpandEnvVars(input string) (string, error) {
	return ExpandWith(input, os.LookupEnv)
}

// ExpandWith is ExpandEnvVars with an explicit lookup.
func ExpandWith(input string, lookup LookupFunc) (string, error) {
	if input == "" {
		return "", nil
	}

	var missing []error
	result := envVarWithDefaultPattern.ReplaceAllStringFunc(input, func(match string) string {
		sub := envVarWithDefaultPattern.FindStringSubmatch(match)
		name, hasDefault, def := sub[1], sub[2] == ":", sub[3]

		if value, ok := lookup(name); ok {
			return value
		}
		if hasDefault {
			return def
		}
		missing = append(missing, fmt.Errorf("%w: %s", ErrUndefinedVar, name))
		return match
	})

	return result, errors.Join(missing...)
}
