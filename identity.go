package main

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/Zachkp/about-me/internal/config"
)

const unknownIdentity = "unknown"

// identityResolver turns a request into the opaque visitor identity used for
// deduplication. Header values are client supplied and trusted as-is.
type identityResolver struct {
	headers    []string
	salt       string
	respectDNT bool
}

func newIdentityResolver(cfg *config.Config) *identityResolver {
	return &identityResolver{
		headers:    cfg.IdentityHeaders,
		salt:       cfg.HashSalt,
		respectDNT: cfg.RespectDNT,
	}
}

// Identity returns the first non-empty configured header, or "unknown".
func (r *identityResolver) Identity(req *http.Request) string {
	id := unknownIdentity
	for _, h := range r.headers {
		if v := strings.TrimSpace(req.Header.Get(h)); v != "" {
			id = v
			break
		}
	}
	return r.hash(id)
}

// Hash identity for privacy (consistent per identity while the salt is unchanged).
func (r *identityResolver) hash(id string) string {
	if r.salt == "" {
		return id
	}
	sum := sha256.Sum256([]byte(id + r.salt))
	return hex.EncodeToString(sum[:])[:16]
}

// DoNotTrack reports whether the visit must not be recorded.
func (r *identityResolver) DoNotTrack(req *http.Request) bool {
	return r.respectDNT && req.Header.Get("DNT") == "1"
}
