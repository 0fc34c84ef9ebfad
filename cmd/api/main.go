package main

import (
	"context"
	"database/sql"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"locshare.org/internal/accounts"
	"locshare.org/internal/auth"
	"locshare.org/internal/config"
	"locshare.org/internal/httpapi"
	"locshare.org/internal/location"
	"locshare.org/internal/obs"
	"locshare.org/internal/sharing"
	"locshare.org/internal/store/pg"
	"locshare.org/internal/stream"
	"locshare.org/internal/visibility"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

type stores struct {
	accounts  accounts.Store
	sharing   sharing.Store
	locations location.Store
	db        *sql.DB
	close     func()
}

func main() {
	if err := run(); err != nil {
		obs.Logger().Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(".env")
	if err != nil {
		return err
	}

	obs.SetLevel(cfg.LogLevel)
	obs.Init()
	obs.InitBuildInfo(version, commit)
	log := obs.Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.close()

	policy, err := location.ParseStalePolicy(cfg.StalePolicy)
	if err != nil {
		return err
	}
	tokens, err := auth.NewTokens(cfg.AuthSecret, cfg.TokenTTL)
	if err != nil {
		return err
	}

	hub := stream.New(cfg.SubscriberBuffer)
	var (
		rdb   redis.UniversalClient
		relay *stream.RedisRelay
	)
	if cfg.RedisAddr != "" {
		rdb = stream.NewRedisClient(stream.RedisConfig{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		defer rdb.Close()
		relay = stream.NewRedisRelay(rdb, hub)
		defer relay.Close()
	}

	dir := accounts.NewDirectory(st.accounts, accounts.WithLoginThrottle(cfg.LoginPerMinute, cfg.LoginBurst))
	graph := sharing.NewGraph(st.sharing, dir)
	ledger := location.NewLedger(st.locations, hub, location.WithStalePolicy(policy))
	resolver := visibility.NewResolver(graph, dir, ledger)

	ready := httpapi.ReadyProbe{DB: st.db, Redis: rdb}
	api := httpapi.New(httpapi.Deps{
		Directory: dir,
		Graph:     graph,
		Ledger:    ledger,
		Resolver:  resolver,
		Tokens:    tokens,
		Ready:     ready,
		Version:   version,
	}, httpapi.WithRateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst))

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	grpcSrv := httpapi.NewGRPCServer(ready, version)
	grpcLis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return err
	}

	log.Info("starting",
		"version", version,
		"http_addr", cfg.HTTPAddr,
		"grpc_addr", cfg.GRPCAddr,
		"stale_policy", policy.String(),
		"postgres", st.db != nil,
		"redis", rdb != nil,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return grpcSrv.Serve(grpcLis)
	})
	g.Go(func() error {
		grpcSrv.WatchReadiness(gctx, 5*time.Second)
		return nil
	})
	if relay != nil {
		g.Go(func() error { return relay.Run(gctx) })
	}
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting_down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		grpcSrv.GracefulStop()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("stopped")
	return nil
}

// openStores returns Postgres-backed stores when a DSN is configured and
// in-memory ones otherwise.
func openStores(ctx context.Context, cfg config.Config) (stores, error) {
	if cfg.PGDSN == "" {
		obs.Logger().Warn("no_database_configured", "detail", "state is kept in memory and lost on restart")
		return stores{
			accounts:  accounts.NewInMemory(),
			sharing:   sharing.NewInMemory(),
			locations: location.NewInMemory(),
			close:     func() {},
		}, nil
	}
	pgs, err := pg.Open(cfg.PGDSN)
	if err != nil {
		return stores{}, err
	}
	if cfg.MigrateOnStart {
		if err := pg.RunMigrations(ctx, pgs.DB()); err != nil {
			_ = pgs.Close()
			return stores{}, err
		}
	}
	return stores{
		accounts:  pgs,
		sharing:   pgs,
		locations: pgs,
		db:        pgs.DB(),
		close:     func() { _ = pgs.Close() },
	}, nil
}
