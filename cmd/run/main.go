/*
 * MailTriage - Copyright (C) 2022 Zane van Iperen.
 *    Contact: zane@zanevaniperen.com
 *
 * This program is free software; you can redistribute it and/or modify
 * it under the terms of the GNU General Public License version 2, and only
 * version 2 as published by the Free Software Foundation.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU General Public License for more details.
 *
 * You should have received a copy of the GNU General Public License
 * along with this program; if not, write to the Free Software
 * Foundation, Inc., 59 Temple Place, Suite 330, Boston, MA  02111-1307  USA
 */


package run

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/vs49688/mailtriage/cmd/config"
	appconfig "github.com/vs49688/mailtriage/config"
	"github.com/vs49688/mailtriage/imap/connection"
	"github.com/vs49688/mailtriage/llm"
	"github.com/vs49688/mailtriage/metrics"
	"github.com/vs49688/mailtriage/pipeline"
	"github.com/vs49688/mailtriage/ratelimit"
	"github.com/vs49688/mailtriage/reload"
	"github.com/vs49688/mailtriage/retry"
	"github.com/vs49688/mailtriage/store"
	"github.com/vs49688/mailtriage/supervisor"
)

const shutdownTimeout = 30 * time.Second

func RegisterCommand(app *cli.App) *cli.App {
	cfg := &config.CliConfig{}
	app.Commands = append(app.Commands, &cli.Command{
		Name:   "run",
		Usage:  "Watch and triage every configured account",
		Flags:  cfg.Parameters(),
		Action: func(context *cli.Context) error { return run(context, cfg) },
	})
	return app
}

func run(c *cli.Context, cfg *config.CliConfig) error {
	cfg.ConfigureLogging()

	conf, err := cfg.Load()
	if err != nil {
		return err
	}

	settings := conf.Settings
	log.WithFields(log.Fields{
		"config":                  cfg.ConfigFile,
		"log_level":               cfg.LogLevel,
		"log_format":              cfg.LogFormat,
		"accounts":                len(conf.Accounts),
		"providers":               len(conf.Providers),
		"poll_interval":           settings.PollInterval,
		"process_debounce":        settings.ProcessDebounce,
		"reconnect_base_delay":    settings.ReconnectBaseDelay,
		"reconnect_max_delay":     settings.ReconnectMaxDelay,
		"batch_size":              settings.BatchSize,
		"database":                settings.Database,
		"metrics_listen":          settings.MetricsListen,
		"provider_stats_interval": settings.ProviderStatsInterval,
	}).Info("starting")

	db, err := store.Open(settings.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	m := metrics.New(prometheus.DefaultRegisterer)

	registry := llm.NewRegistry(&llm.RegistryConfig{
		Limiter: ratelimit.New(nil),
		Metrics: m,
		Log:     log.WithField("component", "llm"),
	})
	registry.Register(conf.Providers)

	factory := &connection.Factory{
		Secrets: &appconfig.SecretResolver{},
		Log:     log.WithField("component", "connection"),
	}

	classifier := pipeline.NewClassifier(&pipeline.Config{
		DeadLetters: db,
		Audit:       db,
		Metrics:     m,
		BatchSize:   settings.BatchSize,
		Log:         log.WithField("component", "pipeline"),
	})

	sup := supervisor.New(&supervisor.Config{
		Connections: supervisor.ConnectionFactoryFunc(func(acc *appconfig.Account) (supervisor.Connection, error) {
			conn, err := factory.NewConnection(acc)
			if err != nil {
				return nil, err
			}
			return conn, nil
		}),
		Processor:       classifier,
		Bindings:        registry,
		Status:          db,
		Metrics:         m,
		Log:             log.WithField("component", "supervisor"),
		PollInterval:    settings.PollInterval,
		ProcessDebounce: settings.ProcessDebounce,
		Backoff: retry.Backoff{
			BaseDelay: settings.ReconnectBaseDelay,
			MaxDelay:  settings.ReconnectMaxDelay,
		},
	})

	ctx, cancel := context.WithCancel(c.Context)
	defer cancel()

	startAccounts(ctx, sup, conf.Accounts)

	reloader := reload.New(sup, registry, conf, log.WithField("component", "reload"))

	reloads := newReloadQueue()
	appconfig.Watch(cfg.ConfigFile, func(next *appconfig.Config, err error) {
		if err != nil {
			log.WithError(err).Warn("config_reload_rejected")
			return
		}
		reloads.Push(next)
	})

	var srv *http.Server
	if settings.MetricsListen != "" {
		srv = serveMetrics(settings.MetricsListen)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		persistProviderStats(ctx, db, registry, settings.ProviderStatsInterval)
	}()
	go func() {
		defer wg.Done()
		reloads.Run(ctx, func(next *appconfig.Config) { applyConfig(ctx, reloader, next) })
	}()

	sigchan := make(chan os.Signal, 10)
	signal.Notify(sigchan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP, syscall.SIGUSR1)
	defer signal.Stop(sigchan)

	sigcount := 0
	for sigcount == 0 {
		sig := <-sigchan
		log.WithFields(log.Fields{"signal": sig, "count": sigcount}).Trace("caught_signal")

		switch sig {
		case syscall.SIGHUP:
			next, err := cfg.Load()
			if err != nil {
				log.WithError(err).Warn("config_reload_rejected")
				continue
			}
			reloads.Push(next)
		case syscall.SIGUSR1:
			logStatus(sup, registry)
		default:
			sigcount++
			log.WithFields(log.Fields{"signal": sig}).Info("received_interrupt")
		}
	}

	go func() {
		for sig := range sigchan {
			if sig == syscall.SIGINT || sig == syscall.SIGTERM {
				log.WithFields(log.Fields{"signal": sig}).Warn("received_interrupt_force_exit")
				os.Exit(1)
			}
		}
	}()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	sup.Close(shutdownCtx)
	cancel()
	wg.Wait()

	if srv != nil {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Warn("metrics_shutdown_failed")
		}
	}

	log.Info("supervisor_terminated")
	return nil
}

// startAccounts starts every account concurrently. Failures are logged;
// the account stays registered and can be reconnected later.
func startAccounts(ctx context.Context, sup *supervisor.Supervisor, accounts []*appconfig.Account) {
	var wg sync.WaitGroup
	for _, acc := range accounts {
		wg.Add(1)
		go func(acc *appconfig.Account) {
			defer wg.Done()
			if err := sup.StartAccount(ctx, acc); err != nil {
				log.WithError(err).WithField("account", acc.Name).Error("account_start_failed")
			}
		}(acc)
	}
	wg.Wait()
}

func applyConfig(ctx context.Context, r *reload.Reloader, next *appconfig.Config) {
	res := r.Apply(ctx, next)
	if !res.Success {
		log.WithField("errors", res.Errors).Warn("config_reload_incomplete")
	}
}

func serveMetrics(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.WithField("addr", addr).Info("metrics_listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("metrics_listen_failed")
		}
	}()

	return srv
}

func logStatus(sup *supervisor.Supervisor, registry *llm.Registry) {
	for _, st := range sup.Statuses() {
		log.WithFields(log.Fields{
			"account":        st.Name,
			"connected":      st.Connected,
			"idle_supported": st.IdleSupported,
			"paused":         st.Paused,
			"errors":         st.Errors,
			"last_scan":      st.LastScan,
			"llm_provider":   st.LLMProvider,
			"llm_model":      st.LLMModel,
		}).Info("account_status")
	}

	for _, q := range sup.QueueStatus() {
		log.WithFields(log.Fields{
			"account":    q.AccountName,
			"folder":     q.Folder,
			"pending":    q.PendingCount,
			"started_at": q.StartedAt,
		}).Info("queue_status")
	}

	for _, st := range registry.Stats() {
		log.WithFields(log.Fields{
			"provider":             st.Name,
			"model":                st.Model,
			"requests_today":       st.RequestsToday,
			"requests_total":       st.RequestsTotal,
			"requests_last_minute": st.RequestsLastMinute,
			"rate_limited":         st.RateLimited,
		}).Info("provider_status")
	}
}
