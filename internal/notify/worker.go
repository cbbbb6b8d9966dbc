package notify

import (
    "bytes"
    "context"
    "net/http"
    "time"

    "fieldroute/internal/config"
    "fieldroute/internal/logging"
    "fieldroute/internal/metrics"
    "fieldroute/internal/store"
)

// Worker drains the webhook delivery queue with retry/backoff. One worker
// per process is enough; deliveries are claimed in batches.
type Worker struct {
    Store       store.Store
    HTTP        *http.Client
    Stop        chan struct{}
    MaxAttempts int
    BatchSize   int
    Log         logging.Logger
}

func NewWorker(s store.Store, cfg config.WebhookConfig, log logging.Logger) *Worker {
    if log == nil { log = logging.Nop{} }
    return &Worker{
        Store: s,
        HTTP: &http.Client{Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second},
        Stop: make(chan struct{}),
        MaxAttempts: cfg.MaxAttempts,
        BatchSize: cfg.BatchSize,
        Log: log,
    }
}

func (w *Worker) Start() {
    go func() {
        ticker := time.NewTicker(1 * time.Second)
        defer ticker.Stop()
        for {
            select {
            case <-w.Stop:
                return
            case <-ticker.C:
                w.processOnce()
            }
        }
    }()
}

func (w *Worker) processOnce() {
    ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
    defer cancel()
    items, err := w.Store.FetchDueWebhookDeliveries(ctx, w.BatchSize)
    if err != nil || len(items) == 0 { return }
    for _, it := range items {
        success := false
        next := time.Now().Add(nextBackoff(it.Attempts))
        req, _ := http.NewRequestWithContext(ctx, http.MethodPost, it.URL, bytes.NewReader(it.Payload))
        req.Header.Set("Content-Type", "application/json")
        req.Header.Set("X-Fieldroute-Event", it.Event)
        if it.Secret != "" {
            req.Header.Set("X-Fieldroute-Signature", SignHMAC(it.Secret, it.Payload))
        }
        start := time.Now()
        resp, err := w.HTTP.Do(req)
        latency := int(time.Since(start).Milliseconds())
        code := 0
        if err == nil && resp != nil {
            code = resp.StatusCode
            if resp.Body != nil { _ = resp.Body.Close() }
            if code >= 200 && code < 300 { success = true }
        }
        lastErr := ""
        if !success && err != nil { lastErr = err.Error() }
        status := "retry"
        if success { status = "delivered" }
        if !success && it.Attempts+1 >= w.MaxAttempts { status = "failed" }
        metrics.WebhookDeliveries.WithLabelValues(it.Event, status).Inc()
        metrics.WebhookLatency.WithLabelValues(it.Event, status).Observe(float64(latency))
        if status == "failed" {
            w.Log.Warnf("webhook %s to %s gave up after %d attempts (code %d)", it.ID, it.URL, it.Attempts+1, code)
            _ = w.Store.FailWebhookDelivery(ctx, it.ID, lastErr, code, latency)
            continue
        }
        _ = w.Store.MarkWebhookDelivery(ctx, it.ID, success, &next, lastErr, code, latency)
    }
}

func nextBackoff(attempts int) time.Duration {
    if attempts < 0 { attempts = 0 }
    if attempts > 10 { attempts = 10 }
    base := time.Second * time.Duration(1<<attempts)
    if base > time.Hour { base = time.Hour }
    return base
}
