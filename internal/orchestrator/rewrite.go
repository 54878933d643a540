package orchestrator

import (
	"strings"

	"go.uber.org/zap"

	"github.com/peonhq/dashboard/pkg/logger"
)

type rewriteRule struct {
	external string
	internal string
}

// URLRewriter maps operator-configured orchestrator URLs onto addresses reachable
// from inside the deployment, e.g. a public hostname onto a container service name.
type URLRewriter struct {
	rules []rewriteRule
}

// ParseRewrites builds a rewriter from "external=internal" pairs separated by commas.
// Malformed pairs are skipped. Order is preserved; the first matching prefix wins.
func ParseRewrites(mappings string) *URLRewriter {
	rw := &URLRewriter{}
	for _, mapping := range strings.Split(mappings, ",") {
		external, internal, ok := strings.Cut(mapping, "=")
		if !ok {
			continue
		}
		external = strings.TrimSpace(external)
		internal = strings.TrimSpace(internal)
		if external == "" {
			continue
		}
		rw.rules = append(rw.rules, rewriteRule{external: external, internal: internal})
	}
	return rw
}

// Resolve returns the URL to dial for configured. Unmatched URLs pass through unchanged.
func (r *URLRewriter) Resolve(configured string) string {
	if r == nil {
		return configured
	}
	for _, rule := range r.rules {
		if strings.HasPrefix(configured, rule.external) {
			resolved := rule.internal + strings.TrimPrefix(configured, rule.external)
			logger.WithModule("orchestrator").Debug("orchestrator url rewrite",
				zap.String("configured", configured),
				zap.String("resolved", resolved),
			)
			return resolved
		}
	}
	return configured
}

// Len reports the number of configured rules.
func (r *URLRewriter) Len() int {
	if r == nil {
		return 0
	}
	return len(r.rules)
}
