package generate

import (
	"strings"
)

// CredentialPool is an ordered list of credentials with a cursor. It
// belongs to one request: Advance never wraps, and Reset returns to the
// first credential for the next attempt cycle.
type CredentialPool struct {
	creds  []Credential
	cursor int
}

// NewCredentialPool builds a pool from keys, dropping blanks and
// duplicates while keeping order.
func NewCredentialPool(keys []Credential) *CredentialPool {
	seen := make(map[Credential]struct{}, len(keys))
	creds := make([]Credential, 0, len(keys))
	for _, k := range keys {
		k = Credential(strings.TrimSpace(string(k)))
		if k == "" {
			continue
		}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		creds = append(creds, k)
	}
	return &CredentialPool{creds: creds}
}

// Current returns the credential under the cursor.
func (p *CredentialPool) Current() (Credential, bool) {
	if p.cursor >= len(p.creds) {
		return "", false
	}
	return p.creds[p.cursor], true
}

// Advance moves to the next unused credential. It reports false, leaving
// the cursor in place, when none remain.
func (p *CredentialPool) Advance() bool {
	if p.cursor+1 >= len(p.creds) {
		return false
	}
	p.cursor++
	return true
}

// Reset moves the cursor back to the first credential.
func (p *CredentialPool) Reset() { p.cursor = 0 }

// Remaining is the number of credentials after the current one.
func (p *CredentialPool) Remaining() int {
	if len(p.creds) == 0 {
		return 0
	}
	return len(p.creds) - p.cursor - 1
}

// Len is the pool size.
func (p *CredentialPool) Len() int { return len(p.creds) }

// Position is the zero-based cursor.
func (p *CredentialPool) Position() int { return p.cursor }
