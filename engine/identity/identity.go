// Package identity resolves opaque API credentials to tenants. Raw
// credentials never leave this package: everything downstream sees the
// fingerprint.
package identity

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/WessleyAI/groundwork/engine/domain"
)

// Identity is a resolved credential.
type Identity struct {
	TenantID       string   `json:"tenantId"`
	Fingerprint    string   `json:"keyFingerprint"`
	Plan           string   `json:"plan"`
	DefaultGraphID string   `json:"defaultGraphId"`
	GraphIDs       []string `json:"graphIds"`
}

// GraphFor picks the graph a request runs against: the requested one when
// the identity owns it, the default when none was requested.
func (id Identity) GraphFor(requested string) (string, error) {
	requested = strings.TrimSpace(requested)
	if requested == "" {
		if id.DefaultGraphID == "" {
			return "", &domain.AuthError{Fingerprint: id.Fingerprint, Wrapped: domain.ErrGraphForbidden}
		}
		return id.DefaultGraphID, nil
	}
	if requested == id.DefaultGraphID || slices.Contains(id.GraphIDs, requested) {
		return requested, nil
	}
	return "", &domain.AuthError{
		Fingerprint: id.Fingerprint,
		Wrapped:     fmt.Errorf("%w: %s", domain.ErrGraphForbidden, requested),
	}
}

// Resolver maps a credential to an Identity. Implementations return an
// *domain.AuthError for unknown credentials.
type Resolver interface {
	Resolve(ctx context.Context, credential string) (Identity, error)
}

// Fingerprint is the stable, non-reversible key id used in logs and usage
// records. It is for display only; lookups use KeyHash.
func Fingerprint(credential string) string {
	return KeyHash(credential)[:12]
}

// KeyHash is the full sha256 of a credential, the only form credentials are
// indexed or stored by.
func KeyHash(credential string) string {
	sum := sha256.Sum256([]byte(credential))
	return hex.EncodeToString(sum[:])
}

// Missing is the error for a request without a credential.
func Missing() error {
	return &domain.AuthError{Wrapped: domain.ErrMissingCredential}
}

// Invalid is the error for an unknown credential.
func Invalid(credential string) error {
	return &domain.AuthError{Fingerprint: Fingerprint(credential), Wrapped: domain.ErrInvalidCredential}
}

// StaticResolver serves a fixed key table, keyed by KeyHash.
type StaticResolver struct {
	keys map[string]Identity
}

// NewStaticResolver indexes ids by credential.
func NewStaticResolver(ids map[string]Identity) *StaticResolver {
	r := &StaticResolver{keys: make(map[string]Identity, len(ids))}
	for cred, id := range ids {
		id.Fingerprint = Fingerprint(cred)
		r.keys[KeyHash(cred)] = id
	}
	return r
}

// ParseStaticKeys parses "key=tenant:plan:graph1|graph2,..." as found in
// the STATIC_KEYS environment variable. The first graph is the default.
func ParseStaticKeys(list string) (map[string]Identity, error) {
	out := make(map[string]Identity)
	for _, entry := range strings.Split(list, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		cred, rest, ok := strings.Cut(entry, "=")
		parts := strings.Split(rest, ":")
		if !ok || cred == "" || len(parts) != 3 || parts[0] == "" {
			return nil, fmt.Errorf("identity: malformed static key entry %q", Fingerprint(entry))
		}
		var graphs []string
		for _, g := range strings.Split(parts[2], "|") {
			if g = strings.TrimSpace(g); g != "" {
				graphs = append(graphs, g)
			}
		}
		if len(graphs) == 0 {
			return nil, fmt.Errorf("identity: static key for tenant %s has no graphs", parts[0])
		}
		out[strings.TrimSpace(cred)] = Identity{
			TenantID:       parts[0],
			Plan:           parts[1],
			DefaultGraphID: graphs[0],
			GraphIDs:       graphs,
		}
	}
	return out, nil
}

// Resolve implements Resolver.
func (r *StaticResolver) Resolve(ctx context.Context, credential string) (Identity, error) {
	if err := ctx.Err(); err != nil {
		return Identity{}, err
	}
	if credential == "" {
		return Identity{}, Missing()
	}
	id, ok := r.keys[KeyHash(credential)]
	if !ok {
		return Identity{}, Invalid(credential)
	}
	return id, nil
}

// Chain tries each resolver in order. An unknown credential moves on to the
// next resolver; any other error stops the chain.
type Chain []Resolver

// Resolve implements Resolver.
func (c Chain) Resolve(ctx context.Context, credential string) (Identity, error) {
	err := Invalid(credential)
	for _, r := range c {
		var id Identity
		id, err = r.Resolve(ctx, credential)
		if err == nil {
			return id, nil
		}
		if !errors.Is(err, domain.ErrInvalidCredential) {
			return Identity{}, err
		}
	}
	return Identity{}, err
}
