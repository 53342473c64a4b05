package main

import (
	"context"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/grpc"

	"cmdgate.io/internal/audit"
	"cmdgate.io/internal/auth"
	"cmdgate.io/internal/config"
	"cmdgate.io/internal/gateway"
	"cmdgate.io/internal/httpapi"
	"cmdgate.io/internal/ledger"
	"cmdgate.io/internal/obs"
	"cmdgate.io/internal/rules"
	"cmdgate.io/internal/store/pg"
	"cmdgate.io/internal/stream"
)

var (
	version = "0.3.1"
	commit  = "dev"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	obs.Init()
	obs.InitBuildInfo(version, commit)

	var (
		users     auth.UserStore
		ruleStore rules.Store
		credits   ledger.Service
		logStore  audit.Log
		probe     httpapi.ReadyProbe
		pgStore   *pg.Store
	)

	ctx := context.Background()

	if cfg.PGDSN != "" {
		pgStore, err = pg.Open(cfg.PGDSN)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		defer pgStore.Close()

		if _, err := pgStore.EnsureUser(ctx, cfg.AdminUsername, cfg.AdminKey, auth.RoleAdmin, cfg.AdminCredits); err != nil {
			log.Fatalf("seed admin: %v", err)
		}

		users = pgStore
		ruleStore = pgStore.Rules()
		credits = pgStore
		logStore = pgStore.Audit()
		probe = httpapi.ReadyProbe{DB: pgStore.DB()}
	} else {
		memUsers := auth.NewInMemory()
		memCredits := ledger.NewInMemory()
		memRules := rules.NewInMemory()

		admin := memUsers.Provision(cfg.AdminUsername, cfg.AdminKey, auth.RoleAdmin)
		memCredits.Provision(admin.ID, cfg.AdminCredits)
		seedRules(ctx, memRules)

		users = memUsers
		ruleStore = memRules
		credits = memCredits
		logStore = audit.NewInMemory()
	}

	var events *stream.Stream
	if cfg.StreamEnabled {
		events = stream.New()
	}

	pipeline := gateway.New(users, ruleStore, credits, logStore,
		gateway.WithDefaultPolicy(gateway.Policy(cfg.DefaultPolicy)),
		gateway.WithCommandCost(cfg.CommandCost),
		gateway.WithStream(events),
	)

	apiOpts := []httpapi.Option{httpapi.WithReadyProbe(probe)}
	if events != nil {
		apiOpts = append(apiOpts, httpapi.WithStream(events))
	}
	api := httpapi.New(pipeline, users, ruleStore, credits, logStore, version, apiOpts...)

	handler := httpapi.SecurityHeaders(
		httpapi.CORS(
			httpapi.RequestID(
				httpapi.LoggingJSON(
					httpapi.RateLimit(
						httpapi.MaxBodyBytes(api.Handler(), cfg.MaxBodyBytes),
						cfg.RateBurst, cfg.RatePerSec)))))

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
	}

	log.Printf("Starting cmdgate-api %s on %s (policy=%s)", version, srv.Addr, cfg.DefaultPolicy)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	var grpcSrv *grpc.Server
	if cfg.GRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			log.Fatalf("grpc listen: %v", err)
		}
		grpcSrv = grpc.NewServer()
		httpapi.NewGRPCServer(probe).Register(grpcSrv)
		go func() {
			if err := grpcSrv.Serve(lis); err != nil {
				log.Fatalf("grpc serve: %v", err)
			}
		}()
		log.Printf("gRPC health on %s", cfg.GRPCAddr)
	}

	obs.SetReady(true)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")
	obs.SetReady(false)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(shutdownCtx)
	if grpcSrv != nil {
		grpcSrv.GracefulStop()
	}
	log.Println("Stopped")
}

// seedRules installs the starter rule set for in-memory deployments.
func seedRules(ctx context.Context, store *rules.InMemory) {
	seeds := []struct {
		pattern string
		action  rules.Action
	}{
		{`^ls -la$`, rules.ActionAllow},
		{`rm -rf`, rules.ActionReject},
	}
	for _, s := range seeds {
		if _, err := store.Add(ctx, s.pattern, s.action, ""); err != nil {
			log.Fatalf("seed rule %q: %v", s.pattern, err)
		}
	}
}
