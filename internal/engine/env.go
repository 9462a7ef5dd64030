package engine

import (
	"os"
	"path"
	"strings"
)

// Env is an ordered sequence of "KEY=VALUE" strings (spec.md §3). Insertion
// order is preserved; Lookup honors "last entry with an identical KEY
// wins" semantics without mutating earlier entries, matching upstart's
// environ.c behavior of appending replacements rather than rewriting in
// place.
type Env []string

// Append adds key=value to the end of env, in the order callers build it.
func (e Env) Append(key, value string) Env {
	return append(e, key+"="+value)
}

// Clone returns a copy so callers can safely mutate env independently of
// its source (used whenever env moves between job.env/start_env/stop_env,
// spec.md §4.4).
func (e Env) Clone() Env {
	if e == nil {
		return nil
	}

	out := make(Env, len(e))
	copy(out, e)

	return out
}

// Lookup returns the value of the last KEY=value entry, honoring
// replace-on-reinsert semantics.
func (e Env) Lookup(key string) (string, bool) {
	prefix := key + "="

	value, ok := "", false

	for _, kv := range e {
		if strings.HasPrefix(kv, prefix) {
			value, ok = kv[len(prefix):], true
		}
	}

	return value, ok
}

// Split returns the key and value of a "KEY=VALUE" entry. If there is no
// '=', the whole string is the key and the value is empty.
func Split(kv string) (key, value string) {
	if i := strings.IndexByte(kv, '='); i >= 0 {
		return kv[:i], kv[i+1:]
	}

	return kv, ""
}

// MatchValue reports whether value satisfies pattern, using shell-style
// globbing (upstart's event matching uses fnmatch(3); path.Match is the Go
// standard library's closest equivalent and is exercised nowhere else in
// the retrieved pack, so no third-party glob engine is grounded for this —
// see DESIGN.md).
func MatchValue(pattern, value string) bool {
	ok, err := path.Match(pattern, value)
	if err != nil {
		return pattern == value
	}

	return ok
}

// expand substitutes $VAR / ${VAR} references in s using values looked up
// first in local, then in fallback. Matches the "substituting variables
// from job_env when present" behavior spec.md §4.1 requires of handle().
func expand(s string, local, fallback Env) string {
	if !strings.Contains(s, "$") {
		return s
	}

	return os.Expand(s, func(name string) string {
		if v, ok := local.Lookup(name); ok {
			return v
		}

		if v, ok := fallback.Lookup(name); ok {
			return v
		}

		return ""
	})
}
