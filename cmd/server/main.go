// cmd/server/main.go
package main

import (
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Reptitalz/credits-service/internal/alerts"
	"github.com/Reptitalz/credits-service/internal/config"
	"github.com/Reptitalz/credits-service/internal/dlq"
	"github.com/Reptitalz/credits-service/internal/events"
	"github.com/Reptitalz/credits-service/internal/metrics"
	"github.com/Reptitalz/credits-service/internal/payment"
	"github.com/Reptitalz/credits-service/internal/payment/gateway"
	"github.com/Reptitalz/credits-service/internal/payment/webhook"
	"github.com/Reptitalz/credits-service/internal/payment/webhook/conekta"
	"github.com/Reptitalz/credits-service/internal/payment/webhook/mercadopago"
	"github.com/Reptitalz/credits-service/internal/server"
	"github.com/Reptitalz/credits-service/internal/store/postgres"
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.With().Str("service", "credits-service").Logger()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("configuration invalid")
	}

	store, err := postgres.NewStore(cfg.GetDBURL())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create store")
	}
	defer store.Close()

	// Operator alerting. Optional in development, but production without it
	// means critical reconciliation failures are log-only, so say so loudly.
	var alertPublisher payment.AlertPublisher
	if url := cfg.GetRabbitMQURL(); url != "" {
		notifier, err := alerts.NewNotifier(url)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect operator alert channel")
		}
		defer notifier.Close()
		alertPublisher = notifier
	} else if cfg.IsProduction() {
		log.Fatal().Msg("RABBITMQ_HOST is required in production: critical payment failures must reach operators")
	} else {
		log.Warn().Msg("operator alerting disabled, critical failures will be log-only")
	}

	// Downstream fan-out and dead-lettering are best-effort extras.
	var eventPublisher payment.EventPublisher
	if cfg.KafkaBroker != "" {
		producer := events.NewKafkaProducer(cfg.KafkaBroker, cfg.KafkaTopic)
		defer producer.Close()
		eventPublisher = producer
	}
	var deadLetter payment.DeadLetter
	if cfg.RedisAddr != "" {
		deadLetter = dlq.New(cfg.RedisAddr)
	}

	reconciler := payment.NewReconcileService(store, alertPublisher, eventPublisher, deadLetter)

	// Webhook processors. A missing signing secret is fatal in production;
	// anywhere else it downgrades to a bypass that logs every skipped
	// verification at warn level.
	allowInsecure := !cfg.IsProduction()
	processors := map[string]webhook.Processor{
		"conekta":     nil,
		"mercadopago": nil,
	}
	if cfg.ConektaWebhookSecret != "" || allowInsecure {
		processors["conekta"] = conekta.New(cfg.ConektaWebhookSecret, allowInsecure)
	}
	if cfg.MercadoPagoAccessToken != "" && (cfg.MercadoPagoWebhookSecret != "" || allowInsecure) {
		lookup := mercadopago.NewClient(cfg.MercadoPagoAccessToken)
		processors["mercadopago"] = mercadopago.New(cfg.MercadoPagoWebhookSecret, lookup, allowInsecure)
	}
	for name, p := range processors {
		if p == nil {
			log.Warn().Str("provider", name).Msg("processor not configured, its webhooks will answer 503")
		}
	}

	gw := gateway.NewConektaGateway(gateway.Config{
		APIKey:              cfg.ConektaAPIKey,
		CallbackURL:         cfg.WebhookCallbackURL("conekta"),
		PricePerCreditCents: cfg.PricePerCreditCents,
		TaxRate:             cfg.TaxRate,
		Currency:            cfg.Currency,
	})

	metrics.Serve(cfg.MetricsAddr)

	srv := server.New(processors, reconciler, gw, store)
	log.Info().
		Str("addr", cfg.HTTPAddr).
		Str("env", cfg.AppEnv).
		Msg("credits-service listening")
	if err := http.ListenAndServe(cfg.HTTPAddr, srv.Router()); err != nil {
		log.Error().Err(err).Msg("http server stopped")
		os.Exit(1)
	}
}
