package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	apporder "github.com/wafula-dev/dukapesa/app/internal/application/order"
	apppayment "github.com/wafula-dev/dukapesa/app/internal/application/payment"
	"github.com/wafula-dev/dukapesa/app/internal/application/reconcile"
	"github.com/wafula-dev/dukapesa/app/internal/config"
	"github.com/wafula-dev/dukapesa/app/internal/infrastructure/id"
	"github.com/wafula-dev/dukapesa/app/internal/infrastructure/memory"
	"github.com/wafula-dev/dukapesa/app/internal/infrastructure/mpesa"
	httptransport "github.com/wafula-dev/dukapesa/app/internal/presentation/http"
	"github.com/wafula-dev/dukapesa/app/internal/pkg/logging"
	"github.com/wafula-dev/dukapesa/app/internal/pkg/metrics"
	"github.com/wafula-dev/dukapesa/app/internal/pkg/phone"
	"go.uber.org/zap"
)

func main() {
	// Optional; real deployments set the environment directly.
	_ = godotenv.Load(".env")
	cfg := config.Load()

	baseLogger := logging.MustNewLogger(cfg.ServiceName, cfg.Env)
	defer func() { _ = baseLogger.Sync() }()
	zap.ReplaceGlobals(baseLogger)

	met := metrics.New(prometheus.DefaultRegisterer)

	normalizer := phone.NewNormalizer(phone.Config{
		CountryCode:      cfg.PhoneCountryCode,
		LocalPrefixes:    phone.DefaultConfig().LocalPrefixes,
		SubscriberDigits: phone.DefaultConfig().SubscriberDigits,
	})

	orderRepo := memory.NewOrderRepository()
	txRepo := memory.NewTransactionRepository()
	idGenerator := id.NewUUIDGenerator()

	gatewayClient := mpesa.NewClient(mpesa.Config{
		BaseURL:        cfg.MpesaBaseURL,
		ConsumerKey:    cfg.MpesaConsumerKey,
		ConsumerSecret: cfg.MpesaConsumerSecret,
		Shortcode:      cfg.MpesaShortcode,
		Passkey:        cfg.MpesaPasskey,
		CallbackURL:    cfg.MpesaCallbackURL,
	}, normalizer, baseLogger, met)

	aggregator := apporder.NewService(orderRepo, txRepo, met, baseLogger)
	reconciler := reconcile.NewService(txRepo, orderRepo, aggregator, idGenerator, normalizer, met, baseLogger)
	paymentService := apppayment.NewService(gatewayClient, orderRepo, reconciler, apppayment.PollConfig{
		InitialDelay: cfg.PollInitialDelay,
		Interval:     cfg.PollInterval,
		MaxChecks:    cfg.PollMaxChecks,
	}, met, baseLogger)
	defer paymentService.Stop()

	handler := httptransport.NewHandler(
		paymentService, reconciler, aggregator, orderRepo, idGenerator, cfg.OperatorToken, baseLogger)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/", handler.Router())

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		baseLogger.Info("http_server_start",
			zap.String("addr", server.Addr),
		)
		err := server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			baseLogger.Error("http_server_error",
				zap.Error(err),
			)
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		baseLogger.Error("http_server_shutdown_error",
			zap.Error(err),
		)
	} else {
		baseLogger.Info("http_server_stopped")
	}
}
