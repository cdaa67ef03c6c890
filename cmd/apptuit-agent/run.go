package main

import (
	"context"
	"fmt"
	sender "github.com/itzg/apptuit-sender"
	"github.com/itzg/apptuit-sender/registry"
	"github.com/itzg/apptuit-sender/reporter"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rcrowley/go-metrics"
	"github.com/spf13/cobra"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"
)

const (
	MetricStartTime   = "apptuit.agent.start_time"
	MetricCollectTime = "apptuit.agent.collect.time"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start reporting metrics",
	Long: `Start reporting Go runtime and process metrics every interval until interrupted.
A final report is sent on shutdown.

Examples:
  # Report to the Apptuit API
  APPTUIT_API_TOKEN=... apptuit-agent run

  # Report with the settings of a config file
  apptuit-agent run --config /etc/apptuit/agent.yaml`,
	RunE: runAgent,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runAgent(cmd *cobra.Command, args []string) error {
	cfg, err := LoadConfig(cfgFile, os.LookupEnv)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	level, _ := cfg.SlogLevel()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	rep, err := newAgentReporter(cfg, prometheus.NewRegistry(), logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rep.Start(ctx); err != nil {
		return err
	}
	logger.Info("agent started",
		"protocol", cfg.Protocol,
		"interval", cfg.Interval,
		"version", sender.Version,
	)

	<-ctx.Done()
	rep.Stop()

	flushCtx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()
	if err := rep.ReportNow(flushCtx, time.Time{}); err != nil {
		logger.Warn("final report failed", "error", err)
	}
	logger.Info("agent stopped")
	return nil
}

// newAgentReporter registers the runtime collectors with promRegistry and
// creates a reporter over them plus the agent's own metrics.
func newAgentReporter(cfg *Config, promRegistry *prometheus.Registry, logger *slog.Logger) (*reporter.Reporter, error) {
	errorListener := func(err error) {
		logger.Warn("metric collection error", "error", err)
	}

	err := promRegistry.Register(collectors.NewGoCollector())
	if err != nil {
		return nil, fmt.Errorf("failed to register go collector: %w", err)
	}
	err = promRegistry.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	if err != nil {
		return nil, fmt.Errorf("failed to register process collector: %w", err)
	}

	own := registry.New()
	own.Gauge(MetricStartTime).Update(float64(time.Now().Unix()))
	source := timedDumper{
		dumper: registry.NewPrometheusSource(promRegistry, errorListener),
		timer:  own.Timer(MetricCollectTime),
	}

	client, err := newIngester(cfg, logger, errorListener)
	if err != nil {
		return nil, err
	}

	return reporter.New(reporter.Config{
		// own comes last so the collect timer includes this tick
		Registry:        registry.Multi{source, own},
		Client:          client,
		Interval:        cfg.Interval,
		Prefix:          cfg.Prefix,
		Tags:            cfg.Tags,
		EnvironmentTags: cfg.EnvironmentTags,
		Logger:          logger,
	})
}

func newIngester(cfg *Config, logger *slog.Logger, errorListener sender.ErrorListener) (sender.Ingester, error) {
	if cfg.Protocol == ProtocolLine {
		client, err := sender.NewLineProtocolClient(sender.LineProtocolConfig{
			Endpoint:      cfg.LineProtocolAddress,
			ErrorListener: errorListener,
		})
		if err != nil {
			return nil, err
		}
		return client, nil
	}

	client, err := sender.NewClient(sender.Config{
		Token:        cfg.Token,
		Endpoint:     cfg.Endpoint,
		SanitizeMode: cfg.Sanitize,
		Timeout:      cfg.Timeout,
		RetryCount:   cfg.RetryCount,
		Logger:       logger,
	})
	if err != nil {
		return nil, err
	}
	return client, nil
}

// timedDumper records how long each dump of the wrapped source takes.
type timedDumper struct {
	dumper registry.Dumper
	timer  metrics.Timer
}

func (d timedDumper) DumpMetrics() map[string]map[string]float64 {
	defer d.timer.UpdateSince(time.Now())
	return d.dumper.DumpMetrics()
}
