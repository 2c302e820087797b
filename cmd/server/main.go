// Package main provides the server entry point.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"connectrpc.com/connect"
	"github.com/alecthomas/kingpin/v2"
	"github.com/cenkalti/backoff/v4"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/hlog"
	zlog "github.com/rs/zerolog/log"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
	"golang.org/x/sync/errgroup"

	apiconnect "github.com/osa030/demoday/internal/api/connect"
	"github.com/osa030/demoday/internal/api/rest"
	"github.com/osa030/demoday/internal/app/admission"
	"github.com/osa030/demoday/internal/app/notification"
	"github.com/osa030/demoday/internal/app/rotation"
	"github.com/osa030/demoday/internal/app/session"
	"github.com/osa030/demoday/internal/domain/slot"
	"github.com/osa030/demoday/internal/infra/avatar"
	"github.com/osa030/demoday/internal/infra/config"
	"github.com/osa030/demoday/internal/infra/logger"
	"github.com/osa030/demoday/internal/infra/metrics"
	redisinfra "github.com/osa030/demoday/internal/infra/redis"
	"github.com/osa030/demoday/internal/infra/upstash"
)

var (
	app        = kingpin.New("demoday-server", "demo day live session admission server")
	configPath = app.Flag("config", "Path to config file").Default("config/server.yaml").String()
	verbose    = app.Flag("verbose", "Enable verbose (DEBUG) logging").Short('v').Bool()
	logfile    = app.Flag("logfile", "Path to log file (default: stdout)").String()

	// check-config command
	checkConfigCmd = app.Command("check-config", "Validate the configuration and exit")
)

func init() {
	// start command (default)
	app.Command("start", "Start the server (default)").Default()
}

// counterStore is a rotation counter that can be probed at startup.
type counterStore interface {
	rotation.Counter
	Ping(ctx context.Context) error
}

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	loggerConfig := logger.Config{
		Output: "stdout",
		Level:  "info",
	}
	if *verbose {
		loggerConfig.Level = "debug"
	}
	if err := logger.Init(loggerConfig); err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}

	zlog.Info().Msgf("Loading config from %s", *configPath)
	cfg, err := config.Load(*configPath)
	if err != nil {
		zlog.Fatal().Msgf("Failed to load config: %v", err)
	}

	if command == checkConfigCmd.FullCommand() {
		printConfigSummary(cfg)
		return
	}

	// Switch to the rotating log file once its settings are known
	if *logfile != "" {
		loggerConfig.Output = *logfile
		loggerConfig.File = *logfile
		loggerConfig.Rotation = logger.RotationConfig{
			MaxSizeMB:  cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
			MaxAgeDays: cfg.Log.MaxAgeDays,
			Compress:   cfg.Log.Compress,
		}
		if err := logger.Init(loggerConfig); err != nil {
			zlog.Fatal().Msgf("Failed to open log file: %v", err)
		}
	}
	defer logger.Close()

	if err := run(cfg); err != nil {
		zlog.Error().Msgf("Server error: %v", err)
		_ = logger.Close()
		os.Exit(1)
	}
}

// run executes the main server logic. Using a separate function ensures
// defer statements are executed even when returning with an error.
func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pm := metrics.New(metrics.Opts{Namespace: "demoday"})
	pm.MustRegister(prometheus.DefaultRegisterer)

	counter, closeCounter, err := newCounter(cfg)
	if err != nil {
		return fmt.Errorf("failed to create rotation counter: %w", err)
	}
	defer closeCounter()

	rotatorOpts := []rotation.Option{
		rotation.WithTimeout(cfg.Rotation.Timeout),
		rotation.WithKeyPrefix(cfg.Rotation.KeyPrefix),
		rotation.WithMetrics(pm),
	}
	if counter != nil {
		probeCounter(ctx, counter)
		rotatorOpts = append(rotatorOpts, rotation.WithCounter(counter))
	}
	rotator := rotation.New(credentials(cfg), rotatorOpts...)

	queue, err := admission.New(admission.Config{
		MaxConcurrent: cfg.Admission.MaxConcurrentSessions,
		WaitTimeout:   cfg.Admission.WaitTimeout,
	}, admission.WithMetrics(pm))
	if err != nil {
		return fmt.Errorf("failed to create admission queue: %w", err)
	}

	avatarClient, err := avatar.New(avatar.Config{
		AuthURI:   cfg.Avatar.AuthURI,
		Timeout:   cfg.Avatar.Timeout,
		RateLimit: cfg.Avatar.RateLimit,
		Burst:     cfg.Avatar.Burst,
	})
	if err != nil {
		return fmt.Errorf("failed to create avatar client: %w", err)
	}

	events := notification.NewManager()

	sessionMgr := session.NewManager(queue, rotator, avatarClient, personas(cfg), session.Config{
		LeaseTTL:      cfg.Admission.LeaseTTL,
		StaleAfter:    cfg.Admission.StaleAfter,
		SweepInterval: cfg.Admission.SweepInterval,
	}, session.WithPublisher(events))

	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           h2c.NewHandler(newRouter(cfg, sessionMgr, events), &http2.Server{}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return sessionMgr.Start(gctx)
	})

	g.Go(func() error {
		zlog.Info().Msgf("Starting server: addr=%s max_concurrent=%d", cfg.Server.Addr, cfg.Admission.MaxConcurrentSessions)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		zlog.Info().Msg("Shutting down...")
		// Ends open event streams so Shutdown does not wait on them.
		events.Close()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			zlog.Error().Msgf("Failed to shutdown server: %v", err)
		}
		return nil
	})

	executeHooks(cfg.Server.Hooks.OnStarted, "on_started")

	err = g.Wait()
	zlog.Info().Msg("Server stopped")
	executeHooks(cfg.Server.Hooks.OnStopped, "on_stopped")
	return err
}

// newRouter mounts the REST, Connect and operational endpoints.
func newRouter(cfg *config.Config, sessionMgr *session.Manager, events *notification.Manager) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(hlog.NewHandler(zlog.Logger))
	r.Use(hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		hlog.FromRequest(r).Info().Msgf("%s %s status=%d size=%d duration=%v request_id=%s",
			r.Method, r.URL.Path, status, size, duration, middleware.GetReqID(r.Context()))
	}))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Mount("/api", rest.NewHandler(sessionMgr).Routes())

	sessionPath, sessionHandler := apiconnect.NewSessionServiceHandler(apiconnect.NewSessionService(sessionMgr))
	adminPath, adminHandler := apiconnect.NewAdminServiceHandler(
		apiconnect.NewAdminService(sessionMgr, events),
		connect.WithInterceptors(apiconnect.NewAdminAuthInterceptor(cfg.Admin.Token)),
	)
	r.Handle(sessionPath+"*", sessionHandler)
	r.Handle(adminPath+"*", adminHandler)

	return r
}

// newCounter creates the configured rotation counter. It returns a nil
// counter when rotation should use the local fallback only.
func newCounter(cfg *config.Config) (counterStore, func(), error) {
	noop := func() {}
	if !cfg.CounterEnabled() {
		zlog.Warn().Msgf("Rotation counter not configured (backend=%s); using local fallback rotation", cfg.Rotation.Backend)
		return nil, noop, nil
	}

	switch cfg.Rotation.Backend {
	case config.BackendRedis:
		c, err := redisinfra.New(redisinfra.Config{
			Addr:     cfg.Rotation.Redis.Addr,
			Password: cfg.Rotation.Redis.Password,
			DB:       cfg.Rotation.Redis.DB,
		})
		if err != nil {
			return nil, noop, err
		}
		return c, func() { _ = c.Close() }, nil
	default:
		c, err := upstash.New(upstash.Config{
			RestURL:   cfg.Rotation.Upstash.RestURL,
			RestToken: cfg.Rotation.Upstash.RestToken,
		})
		if err != nil {
			return nil, noop, err
		}
		return c, noop, nil
	}
}

// probeCounter checks the counter store with exponential backoff.
// Failure is not fatal since rotation falls back to the clock.
func probeCounter(ctx context.Context, counter counterStore) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxElapsedTime = 10 * time.Second

	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := counter.Ping(pingCtx); err != nil {
			zlog.Warn().Msgf("Rotation counter probe failed (attempt %d): %v", attempt, err)
			return err
		}
		return nil
	}, backoff.WithContext(b, ctx))
	if err != nil {
		zlog.Warn().Msgf("Rotation counter unreachable, rotation will fall back per request: %v", err)
		return
	}
	zlog.Info().Msgf("Rotation counter reachable after %d attempt(s)", attempt)
}

func credentials(cfg *config.Config) map[slot.Role]rotation.Credentials {
	return map[slot.Role]rotation.Credentials{
		slot.RoleInvestor: roleCredentials(cfg.Roles.Investor),
		slot.RoleCoach:    roleCredentials(cfg.Roles.Coach),
	}
}

func roleCredentials(r config.RoleConfig) rotation.Credentials {
	return rotation.Credentials{Slot1: r.APIKey1, Slot2: r.APIKey2, Default: r.APIKey}
}

func personas(cfg *config.Config) map[slot.Role]session.Persona {
	return map[slot.Role]session.Persona{
		slot.RoleInvestor: {AvatarID: cfg.Roles.Investor.AvatarID, AgentID: cfg.Roles.Investor.AgentID},
		slot.RoleCoach:    {AvatarID: cfg.Roles.Coach.AvatarID, AgentID: cfg.Roles.Coach.AgentID},
	}
}

// printConfigSummary prints the effective configuration without secrets.
func printConfigSummary(cfg *config.Config) {
	fmt.Println("Configuration OK")
	fmt.Printf("  Server Addr: %s\n", cfg.Server.Addr)
	fmt.Printf("  Max Concurrent Sessions: %d\n", cfg.Admission.MaxConcurrentSessions)
	fmt.Printf("  Wait Timeout: %v\n", cfg.Admission.WaitTimeout)
	fmt.Printf("  Lease TTL: %v\n", cfg.Admission.LeaseTTL)
	fmt.Printf("  Rotation Backend: %s (counter enabled: %v)\n", cfg.Rotation.Backend, cfg.CounterEnabled())
	for _, role := range slot.Roles() {
		rc := cfg.Roles.Investor
		if role == slot.RoleCoach {
			rc = cfg.Roles.Coach
		}
		fmt.Printf("  Role %-8s keys=%d avatar=%v agent=%v\n", role, countKeys(rc), rc.AvatarID != "", rc.AgentID != "")
	}
}

func countKeys(r config.RoleConfig) int {
	n := 0
	for _, k := range []string{r.APIKey1, r.APIKey2, r.APIKey} {
		if k != "" {
			n++
		}
	}
	return n
}

// executeHooks runs a list of shell commands.
func executeHooks(hooks []string, stage string) {
	if len(hooks) == 0 {
		return
	}

	zlog.Info().Msgf("Executing %s hooks (%d commands)", stage, len(hooks))

	for _, hook := range hooks {
		zlog.Info().Msgf("Executing hook: %s", hook)
		// Use sh -c to allow shell features like redirection or pipes
		cmd := exec.Command("sh", "-c", hook)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr

		if err := cmd.Run(); err != nil {
			zlog.Error().Err(err).Msgf("Failed to execute hook: %s", hook)
		}
	}
}
