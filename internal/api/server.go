package api

import (
    "context"
    "fmt"

    "fieldroute/internal/auth"
    "fieldroute/internal/config"
    "fieldroute/internal/distance"
    "fieldroute/internal/logging"
    "fieldroute/internal/metrics"
    "fieldroute/internal/notify"
    "fieldroute/internal/opt"
    "fieldroute/internal/store"
)

// Server holds the wired service components behind the HTTP handlers.
type Server struct {
    Cfg    *config.Config
    Store  store.Store
    Opt    *opt.Controller
    Pub    *notify.Publisher
    Auth   *auth.Verifier
    Broker EventBroker
    Log    logging.Logger
}

// NewServer builds the store, distance oracle, optimizer, and event broker
// from cfg. Postgres and SQLite stores are migrated on startup.
func NewServer(cfg *config.Config) (*Server, error) {
    log := logging.New("api")
    logging.SetLevel(cfg.Logging.Level)

    var st store.Store
    switch cfg.Database.Driver {
    case "postgres":
        pg, err := store.NewPostgres(cfg.Database.DSN)
        if err != nil {
            return nil, fmt.Errorf("open postgres: %w", err)
        }
        if err := pg.Migrate(context.Background()); err != nil {
            return nil, fmt.Errorf("migrate postgres: %w", err)
        }
        st = pg
    case "sqlite":
        sq, err := store.NewSQLite(cfg.Database.DSN)
        if err != nil {
            return nil, fmt.Errorf("open sqlite: %w", err)
        }
        if err := sq.Migrate(context.Background()); err != nil {
            return nil, fmt.Errorf("migrate sqlite: %w", err)
        }
        st = sq
    default:
        st = store.NewMemory()
    }

    var provider distance.Provider
    if cfg.Distance.Provider == "http" {
        provider = distance.NewHTTPProvider(cfg.Distance)
    } else {
        provider = distance.NewStaticProvider(cfg.Distance.Static)
    }
    oracle := distance.NewOracle(provider, cfg.Distance.ChunkSize, logging.New("distance"))

    var broker EventBroker
    if cfg.Redis.URL != "" {
        rb, err := NewRedisBroker(cfg.Redis.URL)
        if err != nil {
            return nil, fmt.Errorf("connect redis: %w", err)
        }
        broker = rb
    } else {
        broker = NewBroker()
    }

    pub := notify.NewPublisher(st, brokerSink{broker}, logging.New("notify"))
    ctrl := opt.NewController(st, oracle, cfg.Optimize, pub, logging.New("opt"))
    ctrl.SetEventSink(streamSink{broker})
    metrics.RegisterDefault()

    return &Server{
        Cfg:    cfg,
        Store:  st,
        Opt:    ctrl,
        Pub:    pub,
        Auth:   auth.NewVerifier(cfg.Auth),
        Broker: broker,
        Log:    log,
    }, nil
}

// NewWebhookWorker returns the delivery worker for this server's store.
// The caller owns Start/Stop.
func (s *Server) NewWebhookWorker() *notify.Worker {
    return notify.NewWorker(s.Store, s.Cfg.Webhooks, logging.New("webhooks"))
}

// brokerSink feeds published notifications into the live event broker.
type brokerSink struct {
    b EventBroker
}

func (s brokerSink) Publish(contractorID, event string, data any) {
    s.b.Publish(contractorID, SSEEvent{Type: event, Data: map[string]any{"notification": data}})
}

// streamSink forwards run lifecycle events to the live event broker.
type streamSink struct {
    b EventBroker
}

func (s streamSink) Publish(contractorID, event string, data any) {
    m, ok := data.(map[string]any)
    if !ok {
        m = map[string]any{"data": data}
    }
    s.b.Publish(contractorID, SSEEvent{Type: event, Data: m})
}
