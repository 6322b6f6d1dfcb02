// Command bridge runs the AgoraMesh gateway: HttpFront+WsFront on one
// listener, McpSessionMux on a second, sharing every domain collaborator
// (auth, quota, trust, worker pool, dispatcher).
//
// Grounded on the teacher's cmd/server/main.go (config wiring, signal
// handling, http.Server construction, graceful shutdown) combined with
// cmd/mcpbridge/main.go's pattern of running the MCP surface as its own
// independent http.Server, since spec.md describes a single process
// rather than the teacher's two binaries.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/agoramesh/bridge/internal/auth"
	"github.com/agoramesh/bridge/internal/config"
	"github.com/agoramesh/bridge/internal/discovery"
	"github.com/agoramesh/bridge/internal/dispatch"
	"github.com/agoramesh/bridge/internal/httpapi"
	"github.com/agoramesh/bridge/internal/mcpapi"
	"github.com/agoramesh/bridge/internal/mcptools"
	"github.com/agoramesh/bridge/internal/quota"
	"github.com/agoramesh/bridge/internal/replay"
	"github.com/agoramesh/bridge/internal/stats"
	"github.com/agoramesh/bridge/internal/taskregistry"
	"github.com/agoramesh/bridge/internal/trust"
	"github.com/agoramesh/bridge/internal/worker"
	"github.com/agoramesh/bridge/internal/wsapi"
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	log.Logger = log.With().Str("service", "agoramesh-bridge").Logger()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	if cfg.Env == "development" || cfg.Env == "dev" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
	}

	counters := &stats.Counters{}

	guard := replay.New()
	replayStop := make(chan struct{})
	go guard.Run(time.Minute, replayStop)
	authn := auth.New(cfg.RequireAuth, cfg.APIToken, guard, auth.NoopMicropaymentVerifier{})

	var continuation *auth.ContinuationIssuer
	if cfg.ContinuationSecret != "" {
		continuation = auth.NewContinuationIssuer(cfg.ContinuationSecret)
		authn.Continuation = continuation
	}

	trustStore := trust.New(0)
	quotaLimiter := quota.New(config.DefaultTierLimits)

	registry := taskregistry.New(0)

	workerSlots := cfg.WorkerSlots
	if workerSlots <= 0 {
		workerSlots = 4
	}
	pool := worker.New(workerSlots, cfg.QueueHighWater, cfg.AllowedCommands, cfg.WorkspaceDir, curatedEnv())
	pool.DefaultOutputCap = cfg.OutputCapFree

	dispatcher := dispatch.New(registry, quotaLimiter, trustStore, pool, commandFor(cfg))
	dispatcher.Stats = counters
	dispatcher.OutputCapFree = cfg.OutputCapFree
	dispatcher.OutputCapPaid = cfg.OutputCapPaid

	discoveryProxy := discovery.New(cfg.NodeURL)

	httpServer := &httpapi.Server{
		Config:       *cfg,
		Authn:        authn,
		Dispatcher:   dispatcher,
		Registry:     registry,
		Trust:        trustStore,
		Discovery:    discoveryProxy,
		Continuation: continuation,
		LLMsTxt:      renderLLMsTxt(cfg.AgentCard),
	}

	wsServer := wsapi.New(authn, dispatcher, trustStore, corsAllowList(cfg.CORSOrigin))

	toolRouter := mcptools.NewDefaultRouter(discoveryProxy, dispatcher, registry)
	sessions := mcpapi.NewSessionManager(cfg.MCPMaxSessions, cfg.MCPIdleTimeout, cfg.MCPScanEvery)
	mcpServer := mcpapi.New(sessions, toolRouter, authn, trustStore, cfg.MCPCORSOrigin, cfg.MCPMaxBody, cfg.MCPPublicURL)

	mux := http.NewServeMux()
	mux.Handle("/", httpServer.Routes())
	mux.Handle("/ws", wsServer)

	httpAddr := fmt.Sprintf(":%d", cfg.Port)
	mainListener := &http.Server{
		Addr:         httpAddr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	mcpMux := http.NewServeMux()
	mcpMux.HandleFunc("/mcp", mcpServer.Handle)
	mcpMux.HandleFunc("/.well-known/mcp.json", mcpServer.Discovery)

	mcpAddr := fmt.Sprintf(":%d", cfg.MCPPort)
	mcpListener := &http.Server{
		Addr:         mcpAddr,
		Handler:      mcpMux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info().Str("addr", httpAddr).Msg("starting HTTP/WS listener")
		if err := mainListener.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP/WS listener failed")
		}
	}()

	go func() {
		log.Info().Str("addr", mcpAddr).Msg("starting MCP listener")
		if err := mcpListener.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("MCP listener failed")
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	log.Info().Msg("shutting down gracefully")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownBudget)
	defer cancel()

	if err := mainListener.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP/WS listener shutdown error")
	}
	if err := mcpListener.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("MCP listener shutdown error")
	}
	sessions.Stop()
	close(replayStop)
	pool.Shutdown(cfg.ShutdownBudget)

	snap := counters.Snapshot()
	log.Info().
		Int64("admits", snap.Admits).
		Int64("quota_denials", snap.QuotaDenials).
		Int64("tasks_completed", snap.TasksCompleted).
		Int64("tasks_failed", snap.TasksFailed).
		Int64("tasks_cancelled", snap.TasksCancelled).
		Int64("worker_timeouts", snap.WorkerTimeouts).
		Msg("shutdown summary")

	log.Info().Msg("bridge stopped")
}

// curatedEnv is the fixed, minimal environment every worker subprocess
// runs with; never the parent process's os.Environ() (spec.md §4.6).
func curatedEnv() []string {
	return []string{"PATH=/usr/bin:/bin", "HOME=/tmp", "LANG=C.UTF-8"}
}

// commandFor maps a task Type to the concrete CLI invocation run in the
// worker pool. All task types run the same configured CLI binary
// (cfg.AllowedCommands[0] by convention) as `<binary> -p <prompt>`; the
// task type is not passed to the binary (spec.md §4.6 names the mapping
// as deployment-specific).
func commandFor(cfg *config.Config) func(taskregistry.Type, string) (worker.Spec, error) {
	return func(t taskregistry.Type, prompt string) (worker.Spec, error) {
		if len(cfg.AllowedCommands) == 0 {
			return worker.Spec{}, fmt.Errorf("no allowed commands configured")
		}
		// WorkingDir is left unset: Dispatcher.run assigns each task its
		// own subdirectory under the pool's workspace root before running
		// this spec.
		return worker.Spec{
			Command: cfg.AllowedCommands[0],
			Args:    []string{"-p", prompt},
		}, nil
	}
}

func corsAllowList(origin string) []string {
	if origin == "" {
		return nil
	}
	return []string{origin}
}

func renderLLMsTxt(card config.AgentCard) string {
	return fmt.Sprintf(`# %s

%s

## Tools

This agent exposes an MCP server at /mcp with the following tools:
- search_agents: find marketplace agents matching a query
- list_agents: list currently registered agents
- get_agent: fetch an agent's profile by DID
- check_trust: fetch an agent's network trust score
- hire_agent: submit a task to an agent and wait for its result
- check_task: poll a previously submitted task by id
`, card.Name, card.Description)
}
