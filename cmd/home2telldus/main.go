package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/AndreCAndersen/home2telldus/internal/config"
	"github.com/AndreCAndersen/home2telldus/internal/events"
	"github.com/AndreCAndersen/home2telldus/internal/gateway"
	"github.com/AndreCAndersen/home2telldus/internal/httpapi"
	"github.com/AndreCAndersen/home2telldus/internal/observability"
	"github.com/AndreCAndersen/home2telldus/internal/ratelimit"
	"github.com/AndreCAndersen/home2telldus/internal/telldus"
)

const serviceName = "home2telldus"

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		slog.Error("home2telldus failed", "error", err)
		os.Exit(1)
	}
}

func run(argv []string, out io.Writer) error {
	cmd, err := parseCommand(argv)
	if err != nil {
		return err
	}

	cfg, err := config.Load(cmd.configPath)
	if err != nil {
		return err
	}
	setupLogger(cfg)

	switch cmd.name {
	case "run":
		return runCommand(cfg, cmd.args, out)
	case "devices":
		return listDevices(cfg, cmd.args, out)
	default:
		return serve(cfg)
	}
}

func setupLogger(cfg *config.Config) {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	var handler slog.Handler = slog.NewTextHandler(os.Stdout, opts)
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}

func telldusOptions(cfg *config.Config) []telldus.Option {
	return []telldus.Option{
		telldus.WithHTTPClient(&http.Client{Timeout: cfg.TelldusTimeout}),
		telldus.WithEndpoints(telldus.Endpoints{Live: cfg.TelldusLiveURL, Login: cfg.TelldusLoginURL}),
		telldus.WithLogger(slog.Default()),
	}
}

func serverCredentials(cfg *config.Config) gateway.ServerCredentials {
	return gateway.ServerCredentials{Secret: cfg.Secret, Email: cfg.Email, Password: cfg.Password}
}

func serve(cfg *config.Config) error {
	shutdownObs, promHandler, tracer := observability.SetupObservability(serviceName)
	defer shutdownObs()

	publisher := setupPublisher(cfg)
	defer publisher.Close()

	limiter, closeLimiter, err := setupLimiter(cfg)
	if err != nil {
		return err
	}
	defer closeLimiter()

	server := serverCredentials(cfg)
	if server.Secret == "" {
		slog.Warn("H2T_SECRET not set, secret-based requests will be rejected")
	}

	svc := gateway.NewService(server, publisher, telldusOptions(cfg)...)
	r := httpapi.NewRouter(httpapi.NewServer(svc), httpapi.RouterOptions{
		ServiceName:    serviceName,
		Tracer:         tracer,
		MetricsHandler: promHandler,
		AllowedOrigins: cfg.CORSAllowedOrigins,
		Limiter:        limiter,
	})

	// A command loop can take repeat*sleep on top of the Telldus round trips.
	httpSrv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 2*cfg.TelldusTimeout + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("home2telldus started", "port", cfg.Port)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-stop:
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	slog.Info("shutting down")
	if err := httpSrv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	slog.Info("server shut down gracefully")
	return nil
}

func setupPublisher(cfg *config.Config) events.Publisher {
	if cfg.MQTTBrokerURL == "" {
		return events.Nop{}
	}
	pub, err := events.Connect(cfg.MQTTBrokerURL, cfg.MQTTTopic)
	if err != nil {
		slog.Warn("mqtt disabled", "error", err)
		return events.Nop{}
	}
	return pub
}

// setupLimiter returns nil when RATE_LIMIT_RPS is zero or negative.
func setupLimiter(cfg *config.Config) (ratelimit.Limiter, func(), error) {
	if cfg.RateLimitRPS <= 0 {
		return nil, func() {}, nil
	}
	lc := ratelimit.LimiterConfig{RPS: cfg.RateLimitRPS, Burst: cfg.RateLimitBurst, MaxKeys: cfg.RateLimitMaxKeys}
	if cfg.RedisAddr == "" {
		return ratelimit.NewMemory(lc), func() {}, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       0,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	pong, err := client.Ping(ctx).Result()
	if err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	slog.Info("connected to redis", "pong", pong)
	return ratelimit.NewRedis(client, lc), func() { _ = client.Close() }, nil
}

// withAccountFallback lets the CLI use H2T_EMAIL/H2T_PASSWORD directly when
// neither a secret nor an email was given on the command line.
func withAccountFallback(args gateway.Args, cfg *config.Config) gateway.Args {
	if args.Has("secret") || args.Has("email") {
		return args
	}
	out := gateway.Args{}
	for k, v := range args {
		out[k] = v
	}
	out["email"] = cfg.Email
	if !args.Has("password") {
		out["password"] = cfg.Password
	}
	return out
}

func runCommand(cfg *config.Config, args gateway.Args, out io.Writer) error {
	args = withAccountFallback(args, cfg)
	req, err := gateway.Resolve(args, serverCredentials(cfg))
	if err != nil {
		return err
	}
	svc := gateway.NewService(serverCredentials(cfg), nil, telldusOptions(cfg)...)
	if err := svc.SendCommand(context.Background(), req); err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, httpapi.SuccessMessage)
	return err
}

func listDevices(cfg *config.Config, args gateway.Args, out io.Writer) error {
	args = withAccountFallback(args, cfg)
	creds, err := gateway.ResolveCredentials(args, serverCredentials(cfg))
	if err != nil {
		return err
	}
	svc := gateway.NewService(serverCredentials(cfg), nil, telldusOptions(cfg)...)
	devices, err := svc.ListDevices(context.Background(), creds)
	if err != nil {
		return err
	}
	for _, d := range devices {
		state := "offline"
		if d.Online {
			state = "online"
		}
		if _, err := fmt.Fprintf(out, "%s\t%s\t%s\n", d.ID, d.Name, state); err != nil {
			return err
		}
	}
	return nil
}
