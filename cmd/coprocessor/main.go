// Command coprocessor is the process entrypoint (spec §6): it loads
// configuration, wires the concrete auth and session-broker backends, and
// starts whichever transports are configured, grounded on the teacher's
// cmd-level wiring style (examples/streaming_http_translator/main.go).
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/snapback-ai/coprocessor/auth"
	"github.com/snapback-ai/coprocessor/broker"
	"github.com/snapback-ai/coprocessor/broker/memory"
	"github.com/snapback-ai/coprocessor/broker/redis"
	"github.com/snapback-ai/coprocessor/config"
	"github.com/snapback-ai/coprocessor/internal/jwtauth"
	"github.com/snapback-ai/coprocessor/server"
	"github.com/snapback-ai/coprocessor/transport/httptransport"
	"github.com/snapback-ai/coprocessor/transport/stream"
)

func main() {
	os.Exit(run())
}

// run wires and starts the process, returning the exit code spec §6
// defines: 0 clean shutdown, 1 fatal configuration error, 2 transport
// initialization failure.
func run() int {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))

	cfg, err := config.Load()
	if err != nil {
		var ve *config.ValidationError
		if errors.As(err, &ve) {
			logger.Error("configuration invalid", "field", ve.Field, "reason", ve.Reason)
		} else {
			logger.Error("failed to load configuration", "error", err)
		}
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	verifier, err := newVerifier(ctx, cfg)
	if err != nil {
		logger.Error("failed to construct auth verifier", "error", err)
		return 1
	}

	msgBroker := newBroker(cfg)

	srv, err := server.New(cfg, verifier, msgBroker, logger)
	if err != nil {
		logger.Error("failed to wire server", "error", err)
		return 1
	}

	httpHandler := httptransport.New(srv, logger)
	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: httpHandler,
	}

	serveErrCh := make(chan error, 1)
	go func() {
		logger.Info("http transport listening", "addr", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErrCh <- err
			return
		}
		serveErrCh <- nil
	}()

	// The newline-framed stream transport runs over the process's own
	// stdio when explicitly requested, serving a single pre-authenticated
	// session for the lifetime of the process (spec §4.1's single-process
	// default).
	var streamErrCh chan error
	if cfg.Development {
		streamErrCh = make(chan error, 1)
		go func() {
			streamErrCh <- serveStream(ctx, srv, logger)
		}()
	}

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serveErrCh:
		if err != nil {
			logger.Error("http transport failed to start", "error", err)
			return 2
		}
	case err := <-streamErrCh:
		if err != nil {
			logger.Error("stream transport terminated", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(shutdownCtx)
	srv.Sessions().Shutdown()

	return 0
}

// serveStream authenticates one development-mode session over stdio and
// serves it until EOF or ctx cancellation.
func serveStream(ctx context.Context, srv *server.Server, logger *slog.Logger) error {
	sess, result := srv.Authenticate(ctx, "")
	if !result.Valid {
		return errors.New("stream transport: development session authentication failed")
	}
	defer srv.Sessions().Remove(sess.ID())

	h := stream.NewHandler(srv, stream.WithLogger(logger))
	return h.Serve(ctx, sess)
}

// newVerifier constructs the production bearer-JWT verifier or, in
// development, a verifier that trusts any key and grants the admin tier —
// never used in production since config.Load already refuses to start
// without COPROCESSOR_AUTH_ISSUER_URL set. When COPROCESSOR_AUTH_JWKS_URL is
// set, the verifier validates against that JWKS endpoint directly instead of
// performing OIDC discovery, for identity providers that don't publish a
// discovery document.
func newVerifier(ctx context.Context, cfg *config.Config) (auth.Verifier, error) {
	if cfg.Development {
		return &auth.StaticKeyVerifier{Tier: auth.TierAdmin}, nil
	}

	if cfg.AuthJWKSURL != "" {
		staticCfg := jwtauth.DefaultStaticConfig()
		staticCfg.Issuer = cfg.AuthIssuerURL
		if cfg.AuthAudience != "" {
			staticCfg.ExpectedAudiences = []string{cfg.AuthAudience}
		}
		authenticator, err := jwtauth.NewStatic(ctx, staticCfg, cfg.AuthJWKSURL)
		if err != nil {
			return nil, err
		}
		return auth.NewJWTVerifier(authenticator, cfg.AuthPlanClaim), nil
	}

	jwtCfg := jwtauth.DefaultConfig()
	jwtCfg.Issuer = cfg.AuthIssuerURL
	if cfg.AuthAudience != "" {
		jwtCfg.ExpectedAudiences = []string{cfg.AuthAudience}
	}

	authenticator, err := jwtauth.NewFromDiscovery(ctx, jwtCfg)
	if err != nil {
		return nil, err
	}
	return auth.NewJWTVerifier(authenticator, cfg.AuthPlanClaim), nil
}

// newBroker selects the in-memory broker for a single-process deployment
// or a Redis-backed broker when REDIS_ADDR names a shared cache, matching
// the teacher's redishost/memoryhost split (spec §4.1's horizontal-scale
// note).
func newBroker(cfg *config.Config) broker.Broker {
	if cfg.RedisAddr == "" {
		return memory.New()
	}
	client := goredis.NewClient(&goredis.Options{Addr: cfg.RedisAddr})
	return redis.New(redis.Config{Client: client})
}
