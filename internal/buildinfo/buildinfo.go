// Package buildinfo carries version stamps injected at link time:
//
//	go build -ldflags "-X fieldroute/internal/buildinfo.Version=v1.2.0 \
//	  -X fieldroute/internal/buildinfo.Commit=$(git rev-parse --short HEAD) \
//	  -X fieldroute/internal/buildinfo.BuiltAt=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
package buildinfo

var (
    Version = "dev"
    Commit  = ""
    BuiltAt = ""
)

// Info is the map rendered on /healthz and /debug/config.
func Info() map[string]string {
    return map[string]string{
        "version": Version,
        "commit":  Commit,
        "builtAt": BuiltAt,
    }
}
