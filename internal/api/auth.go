// Package api implements the HTTP surface of fieldroute: REST handlers,
// server-sent events, the websocket stream, and the service wiring.
package api

import (
    "net/http"
    "strings"
)

// Principal is the authenticated caller of a request.
type Principal struct {
    ContractorID string
    Role         string // "admin" or "contractor"
}

func (p Principal) IsAdmin() bool { return p.Role == "admin" }

// getPrincipal extracts the caller identity from the request.
//   - Authorization: Bearer <token> goes through the configured verifier
//     (dev, hmac, or jwks mode).
//   - X-Contractor-Id / X-Role headers are a dev fallback.
//
// ok is false when the request carries no usable identity; handlers
// answer that with 401.
func (s *Server) getPrincipal(r *http.Request) (Principal, bool) {
    authz := r.Header.Get("Authorization")
    if strings.HasPrefix(strings.ToLower(authz), "bearer ") && s.Auth != nil {
        token := strings.TrimSpace(authz[len("Bearer "):])
        if pr, err := s.Auth.Verify(token); err == nil {
            return Principal{ContractorID: pr.ContractorID, Role: pr.Role}, true
        } else {
            s.Log.Debugf("token rejected: %v", err)
        }
    }
    contractor := r.Header.Get("X-Contractor-Id")
    role := strings.ToLower(r.Header.Get("X-Role"))
    if contractor == "" && role != "admin" {
        return Principal{}, false
    }
    if role == "" {
        role = "contractor"
    }
    return Principal{ContractorID: contractor, Role: role}, true
}

// resolveContractor picks the contractor a request operates on. A request
// that names no contractor acts on the caller's own. Admins may act on any
// contractor; everyone else is pinned to their own id.
func resolveContractor(p Principal, requested string) (string, bool) {
    if requested == "" || requested == p.ContractorID {
        return p.ContractorID, true
    }
    if p.IsAdmin() {
        return requested, true
    }
    return "", false
}
