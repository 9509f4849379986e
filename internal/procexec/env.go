package procexec

import (
	"os"
	"slices"
	"strings"
)

// Environ overlays set onto base and drops the unset keys. A nil base means
// the current process environment. Pass caseInsensitive for Windows, where
// Path and PATH name the same variable.
func Environ(base []string, set map[string]string, unset []string, caseInsensitive bool) []string {
	if base == nil {
		base = os.Environ()
	}

	norm := func(k string) string {
		if caseInsensitive {
			return strings.ToUpper(k)
		}
		return k
	}

	drop := make(map[string]struct{}, len(set)+len(unset))
	for k := range set {
		drop[norm(k)] = struct{}{}
	}
	for _, k := range unset {
		drop[norm(k)] = struct{}{}
	}

	out := make([]string, 0, len(base)+len(set))
	for _, kv := range base {
		k, _, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		if _, skip := drop[norm(k)]; skip {
			continue
		}
		out = append(out, kv)
	}

	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		out = append(out, k+"="+set[k])
	}
	return out
}

// Lookup returns the value of key in env. The last assignment wins.
func Lookup(env []string, key string) (string, bool) {
	return lookup(env, key, false)
}

// LookupFold is Lookup with case-insensitive key matching.
func LookupFold(env []string, key string) (string, bool) {
	return lookup(env, key, true)
}

func lookup(env []string, key string, fold bool) (string, bool) {
	for i := len(env) - 1; i >= 0; i-- {
		k, v, ok := strings.Cut(env[i], "=")
		if !ok {
			continue
		}
		if k == key || (fold && strings.EqualFold(k, key)) {
			return v, true
		}
	}
	return "", false
}
