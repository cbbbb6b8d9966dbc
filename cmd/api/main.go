// Command api is the fieldroute server and its operational subcommands.
//
//	api                 run the HTTP API (default)
//	api sweep           one optimization pass over active contractors
//	api import          load a CSV booking export into a contractor schedule
package main

import (
    "bufio"
    "context"
    "encoding/json"
    "errors"
    "fmt"
    "net"
    "net/http"
    "os"
    "os/signal"
    "strings"
    "syscall"
    "time"

    "github.com/prometheus/client_golang/prometheus/promhttp"
    "github.com/spf13/cobra"

    "fieldroute/internal/api"
    "fieldroute/internal/config"
    "fieldroute/internal/integrations"
    "fieldroute/internal/integrations/csvfile"
    "fieldroute/internal/logging"
    "fieldroute/internal/metrics"
    "fieldroute/internal/store"
)

var (
    cfgPath  string
    seedDemo bool

    importFile       string
    importContractor string
    importSystem     string
)

var rootCmd = &cobra.Command{
    Use:   "api",
    Short: "Field-service scheduling and route optimization API",
    RunE:  runServe,
}

var sweepCmd = &cobra.Command{
    Use:   "sweep",
    Short: "Run one optimization sweep over active contractors and exit",
    RunE:  runSweep,
}

var importCmd = &cobra.Command{
    Use:   "import",
    Short: "Import a CSV booking export into a contractor schedule",
    RunE:  runImport,
}

func init() {
    rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "configuration file (yaml or json); defaults apply when omitted")
    rootCmd.Flags().BoolVar(&seedDemo, "seed", false, "load demo data into the memory store on startup")
    importCmd.Flags().StringVar(&importFile, "file", "", "path to the CSV export")
    importCmd.Flags().StringVar(&importContractor, "contractor", "", "contractor id receiving the jobs")
    importCmd.Flags().StringVar(&importSystem, "system", "", "source system recorded on imported jobs (default csv)")
    rootCmd.AddCommand(sweepCmd, importCmd)
}

func main() {
    if err := rootCmd.Execute(); err != nil {
        os.Exit(1)
    }
}

func loadConfig() (*config.Config, error) {
    if cfgPath == "" {
        return config.Default(), nil
    }
    return config.Load(cfgPath)
}

func runServe(cmd *cobra.Command, args []string) error {
    ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
    defer stop()

    cfg, err := loadConfig()
    if err != nil {
        return fmt.Errorf("load config: %w", err)
    }
    srv, err := api.NewServer(cfg)
    if err != nil {
        return err
    }
    log := logging.New("main")

    if seedDemo {
        if cfg.Database.Driver != "memory" {
            log.Warnf("--seed only applies to the memory store, ignoring")
        } else if err := store.SeedDemo(ctx, srv.Store); err != nil {
            return fmt.Errorf("seed demo data: %w", err)
        } else {
            log.Infof("seeded demo contractor c_demo")
        }
    }

    worker := srv.NewWebhookWorker()
    worker.Start()
    defer close(worker.Stop)

    httpSrv := &http.Server{
        Addr:              cfg.HTTP.Addr,
        Handler:           instrument(routes(srv)),
        ReadHeaderTimeout: 5 * time.Second,
    }

    errCh := make(chan error, 1)
    go func() {
        log.Infof("API listening on %s", cfg.HTTP.Addr)
        if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
            errCh <- err
        }
    }()

    select {
    case err := <-errCh:
        return err
    case <-ctx.Done():
    }
    log.Infof("shutting down")
    shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
    defer cancel()
    return httpSrv.Shutdown(shutdownCtx)
}

func routes(s *api.Server) *http.ServeMux {
    mux := http.NewServeMux()

    // Contractors and jobs
    mux.HandleFunc("/v1/contractors", s.ContractorsHandler)
    mux.HandleFunc("/v1/contractors/", s.ContractorByIDHandler)
    mux.HandleFunc("/v1/jobs", s.JobsHandler)
    mux.HandleFunc("/v1/jobs/", s.JobByIDHandler)

    // Optimization
    mux.HandleFunc("/v1/optimize/runs", s.OptimizeRunsHandler)
    mux.HandleFunc("/v1/optimize/runs/", s.OptimizeRunByIDHandler) // includes /approve, /dismiss
    mux.HandleFunc("/v1/optimize/sweep", s.SweepHandler)

    // Notifications, webhooks, live events
    mux.HandleFunc("/v1/notifications", s.NotificationsHandler)
    mux.HandleFunc("/v1/webhooks/subscriptions", s.WebhooksHandler)
    mux.HandleFunc("/v1/webhooks/subscriptions/", s.WebhookByIDHandler)
    mux.HandleFunc("/v1/events", s.EventsStreamHandler)
    mux.HandleFunc("/v1/ws", s.EventsSocketHandler)

    // Health and metrics
    mux.HandleFunc("/healthz", s.HealthHandler)
    mux.HandleFunc("/readyz", s.ReadyHandler)
    mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

    // Docs
    mux.HandleFunc("/openapi.json", s.OpenAPIHandler)
    mux.HandleFunc("/openapi.yaml", s.OpenAPIHandler)
    mux.HandleFunc("/docs", s.DocsHandler)
    mux.HandleFunc("/swagger", s.SwaggerHandler)
    mux.Handle("/static/", s.StaticHandler())

    mux.HandleFunc("/debug/config", s.DebugConfigHandler)
    return mux
}

// loggingResponseWriter records the status code while passing Flush and
// Hijack through, so SSE and websocket upgrades still work behind it.
type loggingResponseWriter struct {
    http.ResponseWriter
    status int
}

func (w *loggingResponseWriter) WriteHeader(code int) {
    w.status = code
    w.ResponseWriter.WriteHeader(code)
}

func (w *loggingResponseWriter) Flush() {
    if f, ok := w.ResponseWriter.(http.Flusher); ok {
        f.Flush()
    }
}

func (w *loggingResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
    h, ok := w.ResponseWriter.(http.Hijacker)
    if !ok {
        return nil, nil, fmt.Errorf("response writer does not support hijacking")
    }
    return h.Hijack()
}

func instrument(next http.Handler) http.Handler {
    log := logging.New("http")
    return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        start := time.Now()
        rec := &loggingResponseWriter{ResponseWriter: w, status: http.StatusOK}
        next.ServeHTTP(rec, r)
        dur := time.Since(start)
        path := metricPath(r.URL.Path)
        status := fmt.Sprintf("%d", rec.status)
        metrics.HTTPRequests.WithLabelValues(r.Method, path, status).Inc()
        metrics.HTTPDuration.WithLabelValues(r.Method, path, status).Observe(dur.Seconds())
        log.Debugw("request", map[string]any{
            "method": r.Method, "path": r.URL.Path, "status": rec.status,
            "durMs": dur.Milliseconds(), "remote": r.RemoteAddr,
        })
    })
}

// metricPath collapses id segments so metric label cardinality stays bounded.
func metricPath(p string) string {
    if strings.HasPrefix(p, "/static/") {
        return "/static/"
    }
    for _, prefix := range []string{
        "/v1/contractors/", "/v1/jobs/", "/v1/optimize/runs/", "/v1/webhooks/subscriptions/",
    } {
        if strings.HasPrefix(p, prefix) && len(p) > len(prefix) {
            return prefix + "{id}"
        }
    }
    return p
}

func runSweep(cmd *cobra.Command, args []string) error {
    ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
    defer stop()

    cfg, err := loadConfig()
    if err != nil {
        return fmt.Errorf("load config: %w", err)
    }
    srv, err := api.NewServer(cfg)
    if err != nil {
        return err
    }
    res, err := srv.Opt.Sweep(ctx)
    if err != nil {
        return err
    }
    enc := json.NewEncoder(cmd.OutOrStdout())
    enc.SetIndent("", "  ")
    return enc.Encode(res)
}

func runImport(cmd *cobra.Command, args []string) error {
    if importFile == "" || importContractor == "" {
        return fmt.Errorf("--file and --contractor are required")
    }
    ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
    defer stop()

    cfg, err := loadConfig()
    if err != nil {
        return fmt.Errorf("load config: %w", err)
    }
    srv, err := api.NewServer(cfg)
    if err != nil {
        return err
    }
    src := csvfile.New(importFile)
    src.SystemName = importSystem
    imp := integrations.NewImporter(srv.Store, cfg.Optimize, logging.New("import"))
    res, err := imp.Import(ctx, src, importContractor)
    if err != nil {
        return err
    }
    enc := json.NewEncoder(cmd.OutOrStdout())
    enc.SetIndent("", "  ")
    return enc.Encode(res)
}
