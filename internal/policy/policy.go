// Package policy implements the two authorization predicates the bridge
// evaluates: the shared-secret credential check and the command allow-list.
// Both are pure; neither writes audit entries or logs.
package policy

import (
	"crypto/subtle"
	"strings"
)

// Policy evaluates caller credentials and command permissions against the
// configured secret and allow-list. Immutable after construction.
type Policy struct {
	secret  []byte
	allowed []string
}

// New builds a policy. Allow-list entries are normalized once (trim +
// lowercase); empty entries are discarded so they can never match everything.
func New(sharedSecret string, allowedCommands []string) *Policy {
	allowed := make([]string, 0, len(allowedCommands))
	for _, entry := range allowedCommands {
		normalized := strings.ToLower(strings.TrimSpace(entry))
		if normalized == "" {
			continue
		}
		allowed = append(allowed, normalized)
	}
	return &Policy{
		secret:  []byte(sharedSecret),
		allowed: allowed,
	}
}

// Authenticate reports whether the presented credential matches the
// configured shared secret. An empty configured secret fails closed.
func (p *Policy) Authenticate(credential string) bool {
	if p == nil || len(p.secret) == 0 {
		return false
	}
	return subtle.ConstantTimeCompare(p.secret, []byte(credential)) == 1
}

// CommandAllowed reports whether the rendered command line starts with any
// configured allow-list prefix, case-insensitively. Any match suffices.
func (p *Policy) CommandAllowed(commandLine string) bool {
	if p == nil {
		return false
	}
	normalized := strings.ToLower(strings.TrimSpace(commandLine))
	if normalized == "" {
		return false
	}
	for _, prefix := range p.allowed {
		if strings.HasPrefix(normalized, prefix) {
			return true
		}
	}
	return false
}
