// Package policy decides which artisan commands a caller may run.
//
// Authorization is a plain literal prefix test against an ordered allow-list.
// There is no token-boundary check: the prefix "cache" authorizes both
// "cache:clear" and "cachex". Tightening this would reject commands that
// existing deployments already allow, so the behavior is kept as is.
package policy

import (
	"strings"

	"github.com/artisan-mcp/artisan-mcp/pkg/types"
)

// IsAuthorized reports whether requested starts with at least one of the
// allowed prefixes. Comparison is exact and case-sensitive; an empty list
// authorizes nothing.
func IsAuthorized(requested string, allowedPrefixes []string) bool {
	_, ok := matchPrefix(requested, allowedPrefixes)
	return ok
}

func matchPrefix(requested string, allowedPrefixes []string) (string, bool) {
	for _, p := range allowedPrefixes {
		if strings.HasPrefix(requested, p) {
			return p, true
		}
	}
	return "", false
}

// Decision is the outcome of a whitelist check.
type Decision struct {
	Decision types.Decision
	// Rule is the first allow-list entry that matched.
	Rule    string
	Message string
}

func (d Decision) Allowed() bool { return d.Decision == types.DecisionAllow }

// Whitelist is an immutable, ordered set of allowed command prefixes.
type Whitelist struct {
	prefixes []string
}

func NewWhitelist(prefixes []string) *Whitelist {
	return &Whitelist{prefixes: append([]string(nil), prefixes...)}
}

// Prefixes returns a copy of the allow-list in insertion order.
func (w *Whitelist) Prefixes() []string {
	if w == nil {
		return nil
	}
	return append([]string(nil), w.prefixes...)
}

func (w *Whitelist) Empty() bool { return w == nil || len(w.prefixes) == 0 }

func (w *Whitelist) Authorize(requested string) Decision {
	if w.Empty() {
		return Decision{Decision: types.DecisionDeny, Message: "no commands are whitelisted"}
	}
	if rule, ok := matchPrefix(requested, w.prefixes); ok {
		return Decision{Decision: types.DecisionAllow, Rule: rule}
	}
	return Decision{Decision: types.DecisionDeny, Message: "command is not whitelisted"}
}
