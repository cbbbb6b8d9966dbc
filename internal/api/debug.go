package api

import (
    "net/http"
    "net/url"
    "strings"

    "fieldroute/internal/buildinfo"
)

// DebugConfigHandler exposes the effective configuration with secrets
// redacted, plus build info. Admin only.
func (s *Server) DebugConfigHandler(w http.ResponseWriter, r *http.Request) {
    p, ok := s.requirePrincipal(w, r)
    if !ok {
        return
    }
    if !p.IsAdmin() {
        writeProblem(w, http.StatusForbidden, "Forbidden", "admin role required")
        return
    }
    cfg := s.Cfg
    writeJSON(w, http.StatusOK, map[string]any{
        "build": buildinfo.Info(),
        "http":  map[string]any{"addr": cfg.HTTP.Addr},
        "database": map[string]any{
            "driver": cfg.Database.Driver,
            "dsn":    redactURL(cfg.Database.DSN),
        },
        "redis": map[string]any{"url": redactURL(cfg.Redis.URL)},
        "auth": map[string]any{
            "mode":            cfg.Auth.Mode,
            "jwksUrl":         cfg.Auth.JWKSURL,
            "contractorClaim": cfg.Auth.ContractorClaim,
            "roleClaim":       cfg.Auth.RoleClaim,
        },
        "distance": map[string]any{
            "provider":    cfg.Distance.Provider,
            "url":         redactURL(cfg.Distance.URL),
            "chunkSize":   cfg.Distance.ChunkSize,
            "staticEdges": len(cfg.Distance.Static),
        },
        "optimize": cfg.Optimize,
        "webhooks": cfg.Webhooks,
        "logging":  cfg.Logging,
    })
}

// redactURL strips credentials from a connection string. Key=value DSNs
// that may carry a password are masked entirely.
func redactURL(s string) string {
    if s == "" {
        return ""
    }
    if strings.Contains(s, "password=") {
        return "(set)"
    }
    u, err := url.Parse(s)
    if err != nil {
        return "(set)"
    }
    if u.User != nil {
        u.User = url.User(u.User.Username())
    }
    return u.String()
}
