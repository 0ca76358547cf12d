package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	accountservice "pharma/backend/internal/account/service"
	"pharma/backend/internal/audit"
	authservice "pharma/backend/internal/auth/service"
	"pharma/backend/internal/config"
	"pharma/backend/internal/errortrack"
	"pharma/backend/internal/geo"
	healthhandler "pharma/backend/internal/health/handler"
	"pharma/backend/internal/logger"
	"pharma/backend/internal/mail"
	"pharma/backend/internal/metrics"
	rtservice "pharma/backend/internal/refreshtoken/service"
	"pharma/backend/internal/security"
	"pharma/backend/internal/server"
	"pharma/backend/internal/server/httpapi"
	"pharma/backend/internal/server/interceptors"
	sessionservice "pharma/backend/internal/session/service"
	"pharma/backend/internal/storage"
	"pharma/backend/internal/telemetry"
	telemetryotel "pharma/backend/internal/telemetry/otel"
	"pharma/backend/internal/telemetry/producer"
)

const (
	serviceName   = "pharma-backend"
	shutdownGrace = 10 * time.Second
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("config")
	}
	logger.Init(cfg.LogLevel)
	if err := run(cfg); err != nil {
		logger.Fatal().Err(err).Msg("server")
	}
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	providers, err := telemetryotel.NewProviders(ctx, telemetryotel.Config{
		Endpoint:    cfg.OTLPEndpoint,
		ServiceName: serviceName,
		Environment: cfg.Env,
		Insecure:    cfg.OTLPInsecure,
	})
	if err != nil {
		return err
	}
	providers.SetGlobal()
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		_ = providers.Shutdown(sctx)
	}()

	backend, err := storage.Open(ctx, cfg.DatabaseURL, cfg.StoreTimeoutDuration(), cfg.IsProduction())
	if err != nil {
		return err
	}
	defer backend.Close()
	if backend.Kind == "memory" {
		logger.Warn().Msg("DATABASE_URL not set, using in-memory store; data is lost on exit")
	}

	secret := cfg.JWTSecret
	if secret == "" {
		secret = randomSecret()
		logger.Warn().Msg("JWT_SECRET not set, using a random secret; tokens do not survive a restart")
	}
	codec, err := security.NewTokenCodec(secret, cfg.JWTIssuer)
	if err != nil {
		return err
	}
	hasher := security.NewHasher(cfg.BcryptCost)

	var locator sessionservice.Locator
	if cfg.GeoIPBaseURL != "" {
		locator = geo.NewIPAPIClient(cfg.GeoIPBaseURL, cfg.GeoIPTimeoutDuration())
	}
	sessions := sessionservice.NewManager(backend.Sessions, locator, cfg.GeoIPTimeoutDuration(), cfg.TouchTarget)
	refresh := rtservice.NewStore(backend.RefreshTokens, backend.Tx, cfg.RefreshTTL(), cfg.RefreshTokenBytes)

	auditLogger := audit.NewLogger(backend.Audit, interceptors.ClientIP)
	errorSink := errortrack.Multi{
		errortrack.NewStoreSink(backend.Errors),
		errortrack.NewOTelSink(providers.LoggerProvider.Logger(telemetryotel.InstrumentationName + "/errors")),
	}

	emitters := []telemetry.EventEmitter{telemetryotel.NewEventEmitter(providers.LoggerProvider)}
	if brokers := cfg.KafkaBrokersList(); len(brokers) > 0 {
		var kp producer.Producer
		kp, err = producer.NewKafkaProducer(brokers, cfg.AuthEventsTopic)
		if err != nil {
			return err
		}
		defer kp.Close()
		emitters = append(emitters, kp)
		logger.Info().Strs("brokers", brokers).Str("topic", cfg.AuthEventsTopic).Msg("auth events published to kafka")
	}

	ctrl := authservice.NewController(backend.Tx, backend.Users, sessions, refresh, hasher, codec, cfg.AccessTTL()).
		WithAudit(auditLogger).
		WithEvents(telemetry.NewFanout(emitters...)).
		WithErrorSink(errorSink)

	var mailer mail.Sender = mail.LogSender{}
	if cfg.SMTPHost != "" {
		mailer = mail.NewSMTPSender(mail.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.MailFrom,
		})
	}
	accounts := accountservice.NewService(backend.Tx, backend.Users, backend.AccountTokens, hasher, mailer, cfg.AccountTTL(), cfg.FrontendBaseURL).
		WithAudit(auditLogger).
		WithErrorSink(errorSink)

	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector(), prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	metrics.RegisterCollectors(reg)

	var pinger healthhandler.Pinger
	if backend.Pinger != nil {
		pinger = backend.Pinger
	}
	health := healthhandler.NewServer(pinger)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := httpapi.NewRouter(httpapi.Deps{
		Auth:     ctrl,
		Accounts: accounts,
		Sessions: sessions,
		Activity: backend.Audit,
		Health:   health,
	}, httpapi.Options{
		Cookies:     httpapi.CookieOptions{Secure: cfg.CookieSecure, Domain: cfg.CookieDomain},
		CORSOrigins: cfg.CORSOrigins(),
		LoginRPS:    cfg.LoginRateLimitRPS,
		LoginBurst:  cfg.LoginRateLimitBurst,
		Metrics:     promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	})
	httpSrv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info().Str("addr", cfg.HTTPAddr).Str("store", backend.Kind).Msg("HTTP server listening")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	grpcSrv := server.NewGRPCServer()
	if cfg.GRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			return err
		}
		server.RegisterServices(grpcSrv, server.Deps{HealthPinger: pinger})
		go func() {
			logger.Info().Str("addr", cfg.GRPCAddr).Msg("gRPC health server listening")
			if err := grpcSrv.Serve(lis); err != nil {
				errCh <- err
			}
		}()
	}

	select {
	case <-ctx.Done():
		logger.Info().Msg("shutting down")
	case err := <-errCh:
		logger.Error().Err(err).Msg("server failed")
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	grpcSrv.GracefulStop()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	// In-flight async emits finish before the providers and the Kafka writer close.
	time.Sleep(telemetry.ShutdownDrainDuration)
	logger.Info().Msg("server stopped")
	return nil
}

func randomSecret() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return hex.EncodeToString(b)
}
