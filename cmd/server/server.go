package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"restaurant-sync/internal/broker"
	"restaurant-sync/internal/events"
	"restaurant-sync/internal/handler"
	"restaurant-sync/internal/ingestion"
	"restaurant-sync/internal/ingestion/platforms"
	"restaurant-sync/internal/orders"
	"restaurant-sync/internal/payments"
	"restaurant-sync/internal/realtime"
	"restaurant-sync/internal/store"
	"restaurant-sync/internal/store/memory"
	"restaurant-sync/internal/store/postgres"
	"restaurant-sync/internal/tables"
	"restaurant-sync/pkg/config"
	"restaurant-sync/pkg/db"
	"restaurant-sync/pkg/logger"
	"restaurant-sync/pkg/models"
	"restaurant-sync/pkg/rabbitmq"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"
	"golang.org/x/sync/errgroup"
)

const (
	sweepInterval   = 30 * time.Second
	shutdownTimeout = 10 * time.Second
	publishBuffer   = 256
	devTables       = 6
)

type Server struct {
	config *config.Config
	logger *logger.Logger
	memory bool

	httpServer *http.Server
	dbPool     *pgxpool.Pool
	rabbitMQ   *rabbitmq.RabbitMQ
	hub        *realtime.Hub
}

// NewServer prepares a server. With inMemory set, state lives in process
// and the database is never contacted.
func NewServer(cfg *config.Config, log *logger.Logger, inMemory bool) *Server {
	return &Server{config: cfg, logger: log, memory: inMemory}
}

// Run serves until ctx is cancelled or a component fails, then shuts down.
func (s *Server) Run(ctx context.Context) error {
	st, err := s.openStore(ctx)
	if err != nil {
		return err
	}
	defer s.close()

	if err := s.seed(ctx, st); err != nil {
		return err
	}

	if s.config.Auth.JWTSecret == "" {
		s.logger.Warn("startup", "auth_disabled", "auth.jwt_secret is empty; realtime connections will be refused")
	}
	auth := realtime.NewAuthenticator(s.config.Auth.JWTSecret, s.config.Auth.Issuer, s.config.Auth.TokenTTL)

	// The hub is built after the services that emit into it.
	var hub *realtime.Hub
	local := events.EmitterFunc(func(ctx context.Context, e events.Event) { hub.Emit(ctx, e) })

	emitter := events.Emitter(local)
	instance := uuid.NewString()
	var (
		pub        *broker.Publisher
		deliveries <-chan amqp.Delivery
	)
	if s.config.RabbitMQ.Enabled {
		rm, err := rabbitmq.ConnectRabbitMQ(s.config.RabbitMQ, s.logger)
		if err != nil {
			return err
		}
		s.rabbitMQ = rm
		if deliveries, err = rm.SubscribeNotifications(); err != nil {
			return err
		}
		pub = broker.NewPublisher(rm, instance, publishBuffer, s.logger)
		emitter = events.Multi{local, pub}
	}

	tc := tables.NewCoordinator(st, emitter, s.logger)
	ord := orders.NewService(st, tc, emitter, s.logger)

	registry, err := payments.RegistryFromConfig(s.config.Payments, &http.Client{Timeout: s.config.Payments.VerifyTimeout})
	if err != nil {
		return err
	}
	pay := payments.NewService(st, ord, registry, s.logger, s.config.Payments.VerifyTimeout)

	ing := ingestion.NewService(st, ord, platforms.Default(), ingestion.Config{
		Defaults: platforms.Defaults{
			BranchID: s.config.Ingestion.DefaultBranchID,
			UserID:   s.config.Ingestion.DefaultUserID,
		},
		PendingTTL:    s.config.Ingestion.PendingTTL,
		PendingPerKey: s.config.Ingestion.PendingPerKey,
	}, s.logger)

	hub = realtime.NewHub(auth, ord, tc, realtime.Config{
		SendBuffer:  s.config.Realtime.SendBuffer,
		AuthTimeout: s.config.Realtime.AuthTimeout,
	}, s.logger)
	s.hub = hub

	api := handler.New(handler.Deps{
		Orders:    ord,
		Tables:    tc,
		Payments:  pay,
		Ingestion: ing,
		Realtime:  hub,
		Auth:      auth,
		Logger:    s.logger,
	})

	s.httpServer = &http.Server{
		Addr:        fmt.Sprintf(":%d", s.config.Server.Port),
		Handler:     api.Routes(),
		ReadTimeout: s.config.Server.ReadTimeout,
		// WriteTimeout would cut websocket connections; handlers bound
		// their own gateway calls.
		IdleTimeout: s.config.Server.IdleTimeout,
	}

	g, ctx := errgroup.WithContext(ctx)
	if pub != nil {
		relay := broker.NewRelay(instance, local, s.logger)
		g.Go(func() error { return pub.Run(ctx) })
		g.Go(func() error { return relay.Run(ctx, deliveries) })
	}
	g.Go(func() error {
		s.logger.Info("startup", "server_started", fmt.Sprintf("restaurant-sync listening on port %d", s.config.Server.Port),
			"memory", s.memory, "rabbitmq", s.config.RabbitMQ.Enabled, "instance", instance)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		ing.RunSweeper(ctx, sweepInterval)
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		return s.shutdown()
	})

	return g.Wait()
}

func (s *Server) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	s.logger.Info("shutdown", "server_stopping", "shutting down")
	if err := s.hub.Shutdown(ctx, "server shutting down"); err != nil {
		s.logger.Error("shutdown", "hub_shutdown_failed", "realtime connections did not close in time", err)
	}
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

func (s *Server) close() {
	if s.rabbitMQ != nil {
		s.rabbitMQ.Close()
	}
	if s.dbPool != nil {
		s.dbPool.Close()
	}
}

func (s *Server) openStore(ctx context.Context) (store.Store, error) {
	if s.memory {
		s.logger.Warn("startup", "memory_store", "using in-memory store; state is lost on exit")
		return memory.New(), nil
	}
	pool, err := db.ConnectDB(ctx, &s.config.Database, s.logger)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	s.dbPool = pool
	if err := db.Migrate(ctx, pool, s.logger); err != nil {
		return nil, err
	}
	return postgres.New(pool, s.logger), nil
}

// seed writes the configured integrations and, in memory mode, a small
// floor of tables so the dashboard has something to show.
func (s *Server) seed(ctx context.Context, st store.Store) error {
	for _, in := range s.config.Ingestion.Integrations {
		err := st.SaveIntegration(ctx, &models.Integration{
			ID:            "int-" + in.Platform,
			Platform:      in.Platform,
			Active:        in.Active,
			BranchID:      in.BranchID,
			DefaultUserID: in.DefaultUserID,
		})
		if err != nil {
			return fmt.Errorf("seed integration %s: %w", in.Platform, err)
		}
	}
	if !s.memory {
		return nil
	}
	branch := s.config.Ingestion.DefaultBranchID
	for n := 1; n <= devTables; n++ {
		err := st.CreateTable(ctx, &models.Table{
			ID:          fmt.Sprintf("t-%d", n),
			TableNumber: n,
			Capacity:    4,
			Status:      models.TableAvailable,
			BranchID:    branch,
		})
		if err != nil {
			return fmt.Errorf("seed table %d: %w", n, err)
		}
	}
	return nil
}
