// Command callrelay-server starts the rendezvous relay over HTTP and gRPC.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/and161185/callrelay/internal/auth"
	"github.com/and161185/callrelay/internal/config"
	"github.com/and161185/callrelay/internal/crypto"
	"github.com/and161185/callrelay/internal/limiter"
	"github.com/and161185/callrelay/internal/notify"
	"github.com/and161185/callrelay/internal/repository/memory"
	grpcserver "github.com/and161185/callrelay/internal/server/grpc"
	httpserver "github.com/and161185/callrelay/internal/server/http"
	"github.com/and161185/callrelay/internal/service"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

func newLogger(dev bool) (*zap.Logger, error) {
	if dev {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func newNotifier(cfg config.NotifierConfig, log *zap.Logger) notify.Notifier {
	if cfg.Kind == config.NotifierTwilio {
		return notify.NewTwilio(notify.TwilioConfig{
			BaseURL:    cfg.Twilio.BaseURL,
			AccountSID: cfg.Twilio.AccountSID,
			AuthToken:  cfg.Twilio.AuthToken,
			From:       cfg.Twilio.From,
		}, log)
	}
	return notify.NewLog(log)
}

// sweep drops expired codes and stale limiter entries until ctx is done.
func sweep(ctx context.Context, every time.Duration, verify service.VerificationService, lim *limiter.Memory, log *zap.Logger) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			codes := verify.Sweep(ctx)
			var locks int
			if lim != nil {
				locks = lim.Prune()
			}
			if codes > 0 || locks > 0 {
				log.Debug("sweep", zap.Int("codes", codes), zap.Int("limiter", locks))
			}
		}
	}
}

// main parses configuration, builds the in-memory stores and serves until signalled.
func main() {
	cfg, err := config.Parse(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(2)
	}

	logger, err := newLogger(cfg.Dev)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()
	logger.Info("starting",
		zap.String("version", version),
		zap.String("buildDate", buildDate),
		zap.String("http", cfg.HTTPAddr),
		zap.String("grpc", cfg.GRPCAddr),
		zap.Bool("autoProvisionCallee", cfg.AllowAutoProvisionCallee),
	)

	// Context with OS signals
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hasher, err := crypto.NewCodeHasher(nil)
	if err != nil {
		logger.Fatal("code hasher", zap.Error(err))
	}

	// Stores
	dir := memory.NewDirectory()
	codes := memory.NewCodeStore()
	calls := memory.NewCallStore()
	mailbox := memory.NewMailbox()

	var (
		lim    limiter.Limiter = limiter.Nop{}
		memLim *limiter.Memory
	)
	if cfg.RedeemMaxFailures > 0 {
		memLim = limiter.NewMemory(cfg.RedeemFailureWindow, cfg.RedeemMaxFailures, cfg.RedeemBlockFor)
		lim = memLim
	}

	// Services
	verifySvc := service.NewVerificationService(codes, dir, newNotifier(cfg.Notifier, logger), hasher, lim, cfg.CodeTTL, logger)
	callSvc := service.NewCallService(calls, dir, mailbox, service.CallOptions{
		AllowAutoProvisionCallee: cfg.AllowAutoProvisionCallee,
		ValidateSDP:              cfg.ValidateSDP,
	})
	relay := service.NewRelay(service.RelayDeps{
		Verification: verifySvc,
		Calls:        callSvc,
		Directory:    dir,
		Codes:        codes,
		CallStore:    calls,
		Mailbox:      mailbox,
	}, cfg.LongPollMax, logger)

	tokens := auth.NewTokens([]byte(cfg.AdminKey), auth.DefaultTTL)
	if !tokens.Enabled() {
		logger.Warn("admin surface disabled (no admin key)")
	}

	if cfg.SweepInterval > 0 {
		go sweep(ctx, cfg.SweepInterval, verifySvc, memLim, logger)
	}

	errCh := make(chan error, 2)

	var httpSrv *http.Server
	if cfg.HTTPAddr != "" {
		httpSrv = &http.Server{
			Addr:              cfg.HTTPAddr,
			Handler:           httpserver.New(relay, tokens, logger),
			ReadHeaderTimeout: 10 * time.Second,
			WriteTimeout:      cfg.LongPollMax + 10*time.Second,
			IdleTimeout:       60 * time.Second,
			// request contexts end with the signal context so pending long-polls return on shutdown
			BaseContext: func(net.Listener) context.Context { return ctx },
		}
		go func() {
			logger.Info("http listening", zap.String("addr", cfg.HTTPAddr), zap.Bool("tls", cfg.TLSCert != ""))
			var err error
			if cfg.TLSCert != "" {
				err = httpSrv.ListenAndServeTLS(cfg.TLSCert, cfg.TLSKey)
			} else {
				err = httpSrv.ListenAndServe()
			}
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("http: %w", err)
			}
		}()
	}

	var grpcSrv *grpc.Server
	if cfg.GRPCAddr != "" {
		opts := []grpc.ServerOption{
			grpc.ChainUnaryInterceptor(
				grpcserver.RecoverUnary(logger),
				grpcserver.LoggingUnary(logger),
			),
			grpc.ChainStreamInterceptor(
				grpcserver.RecoverStream(logger),
				grpcserver.LoggingStream(logger),
			),
		}
		if cfg.TLSCert != "" {
			creds, err := credentials.NewServerTLSFromFile(cfg.TLSCert, cfg.TLSKey)
			if err != nil {
				logger.Fatal("failed to load TLS cert/key", zap.Error(err))
			}
			opts = append(opts, grpc.Creds(creds))
		}
		grpcSrv = grpc.NewServer(opts...)
		grpcserver.RegisterRelayServer(grpcSrv, grpcserver.New(relay, tokens, logger))

		// Health & reflection (dev)
		hs := health.NewServer()
		healthpb.RegisterHealthServer(grpcSrv, hs)
		if cfg.Dev {
			reflection.Register(grpcSrv)
		}

		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			logger.Fatal("listen", zap.Error(err))
		}
		go func() {
			logger.Info("grpc listening", zap.String("addr", cfg.GRPCAddr), zap.Bool("tls", cfg.TLSCert != ""))
			if err := grpcSrv.Serve(lis); err != nil {
				errCh <- fmt.Errorf("grpc: %w", err)
			}
		}()
	}

	// Wait for stop
	select {
	case <-ctx.Done():
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
		os.Exit(1)
	}

	// graceful shutdown; open WatchEvents streams are cut by Stop after the deadline
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if httpSrv != nil {
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http shutdown", zap.Error(err))
			_ = httpSrv.Close()
		}
	}
	if grpcSrv != nil {
		done := make(chan struct{})
		go func() {
			grpcSrv.GracefulStop()
			close(done)
		}()
		select {
		case <-done:
		case <-shutdownCtx.Done():
			grpcSrv.Stop()
		}
	}

	logger.Info("shutdown complete")
}
