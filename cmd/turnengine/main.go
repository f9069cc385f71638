// Command turnengine runs the turn orchestration core: it assembles wire
// requests, streams a model's response, and drives tool calls through
// approval, sandboxing, and execution.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/codex-go/turnengine/internal/agent/providers"
	"github.com/codex-go/turnengine/internal/agent/toolorchestrator"
	"github.com/codex-go/turnengine/internal/agent/wire"
	"github.com/codex-go/turnengine/internal/config"
	"github.com/codex-go/turnengine/internal/history"
	"github.com/codex-go/turnengine/internal/observability"
	"github.com/codex-go/turnengine/internal/transport"
	"github.com/codex-go/turnengine/pkg/protocol"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "turnengine",
		Short: "Turn orchestration core for a coding-agent runtime",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "turnengine.yaml", "path to config file")

	root.AddCommand(newServeCmd(&configPath))
	root.AddCommand(newValidateConfigCmd(&configPath))
	return root
}

func newValidateConfigCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "validate-config",
		Short: "Load and validate the config file without starting the server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			fmt.Printf("config OK: model=%s approval=%s sandbox=%s\n", cfg.LLM.Model, cfg.Approval.Policy, cfg.Sandbox.Mode)
			return nil
		},
	}
}

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the metrics server and the approval cache cleanup sweep",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}

			logger := observability.NewLogger(observability.LogConfig{
				Level:     cfg.Logging.Level,
				Format:    cfg.Logging.Format,
				AddSource: cfg.Logging.AddSource,
			})

			tp := sdktrace.NewTracerProvider()
			defer tp.Shutdown(context.Background())

			store := observability.NewMemoryEventStore(10000)
			recorder := observability.NewEventRecorder(store, logger)
			telemetry := observability.NewToolTelemetry(recorder)
			_ = telemetry // wired into toolorchestrator.Run by each call site

			orchestrator := toolorchestrator.NewOrchestrator()

			histDB, err := history.Open(cfg.History.DSN)
			if err != nil {
				return fmt.Errorf("open history store: %w", err)
			}
			defer histDB.Close()

			wsHandler := &transport.TurnHandler{}

			watcher, err := config.NewWatcher(*configPath, nil)
			if err == nil {
				watcher.OnReload = func(_ *config.Config, err error) {
					if err != nil {
						logger.Error(context.Background(), "config reload failed", "error", err)
						return
					}
					logger.Info(context.Background(), "config reloaded")
				}
				go watcher.Run()
				defer watcher.Close()
			}

			sweeper := newApprovalCacheSweeper(orchestrator.Cache)
			sweeper.Start()
			defer sweeper.Stop()

			client := providers.NewClient(cfg.LLM.APIKey, cfg.LLM.BaseURL, cfg.LLM.MaxRetries, time.Second)

			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			mux.HandleFunc("/turns/", func(w http.ResponseWriter, r *http.Request) {
				conversationID := r.URL.Path[len("/turns/"):]
				conv := histDB.ForConversation(conversationID)

				items, err := conv.Load(r.Context())
				if err != nil {
					http.Error(w, err.Error(), http.StatusInternalServerError)
					return
				}

				stream, err := client.Stream(r.Context(), wireRequestFor(cfg, items))
				if err != nil {
					http.Error(w, err.Error(), http.StatusBadGateway)
					return
				}

				wsHandler.ServeTurn(w, r, stream)
			})

			addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.MetricsPort)
			logger.Info(context.Background(), "serving metrics", "addr", addr)
			return http.ListenAndServe(addr, mux)
		},
	}
}

// approvalCacheSweeper periodically forgets expired approval decisions so
// the cache doesn't grow unbounded across a long-lived process.
type approvalCacheSweeper struct {
	cron *cron.Cron
}

func newApprovalCacheSweeper(cache *toolorchestrator.ApprovalCache) *approvalCacheSweeper {
	c := cron.New()
	c.AddFunc("@every 5m", func() {
		cache.SweepExpired()
	})
	return &approvalCacheSweeper{cron: c}
}

func (s *approvalCacheSweeper) Start() { s.cron.Start() }
func (s *approvalCacheSweeper) Stop()  { s.cron.Stop() }

// wireRequestFor builds the outbound wire.Request for a conversation's
// persisted history.
func wireRequestFor(cfg *config.Config, items []protocol.ResponseItem) wire.Request {
	return wire.Request{
		Model: cfg.LLM.Model,
		Input: items,
	}
}
