package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/caarlos0/env/v11"
	"github.com/spf13/cobra"

	"github.com/choptalini/chatbot/internal/agent"
	"github.com/choptalini/chatbot/internal/config"
	"github.com/choptalini/chatbot/internal/pipeline"
	"github.com/choptalini/chatbot/internal/store"
	"github.com/choptalini/chatbot/internal/telemetry"
	"github.com/choptalini/chatbot/internal/tools"
	"github.com/choptalini/chatbot/internal/transport"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the broker: ingress, debouncer, worker pool, and streaming API",
		Run: func(cmd *cobra.Command, args []string) {
			runServe()
		},
	}
}

func runServe() {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})))

	var proc config.Process
	if err := env.Parse(&proc); err != nil {
		slog.Error("failed to parse process configuration", "error", err)
		os.Exit(1)
	}
	proc.TenantMapPath = resolveConfigPath()

	// pg.Open caps the store at 25 open connections; 2 are held back for
	// ingress handlers, so MAX_WORKERS may be at most 23.
	if err := proc.Validate(25, 2); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	if proc.AnthropicAPIKey == "" {
		slog.Error("agent configuration error", "error", "ANTHROPIC_API_KEY is required to run the default agent")
		os.Exit(1)
	}

	st, err := openStore(context.Background(), &proc)
	if err != nil {
		slog.Error("store unreachable", "error", err)
		os.Exit(2)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := telemetry.Init(ctx, "chatbot", proc.OTLPEndpoint)
	if err != nil {
		slog.Warn("tracing disabled", "error", err)
	}

	pl, err := pipeline.Build(ctx, pipeline.Dependencies{
		Process:    &proc,
		Store:      st,
		BuildTools: func(tr transport.Transport) []tools.Tool { return buildTools(st, tr) },
		BuildAgents: func(tr transport.Transport, toolReg *tools.Registry) map[store.AgentID]agent.Agent {
			return buildAgents(&proc, toolReg)
		},
	})
	if err != nil {
		slog.Error("pipeline build failed", "error", err)
		st.Close()
		os.Exit(1)
	}

	if !probeTransport(ctx, &proc) {
		slog.Error("transport unreachable at startup")
		pl.Close()
		os.Exit(3)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("graceful shutdown initiated", "signal", sig)
		cancel()
	}()

	slog.Info("chatbot broker starting",
		"version", Version,
		"host", proc.GatewayHost,
		"port", proc.GatewayPort,
		"workers", proc.MaxWorkers,
	)

	if err := pl.Start(ctx); err != nil {
		slog.Error("broker exited with error", "error", err)
		pl.Close()
		os.Exit(1)
	}

	pl.Close()
	if err := shutdownTracing(context.Background()); err != nil {
		slog.Warn("tracing shutdown failed", "error", err)
	}
	slog.Info("chatbot broker stopped")
}

// buildAgents constructs the agent_id → Agent registry. A single
// Anthropic-backed agent is wired by default; multi-agent deployments add
// more entries here keyed by the agent_id used in the tenant map. toolReg is
// already populated by the time this runs, so the agent learns every tool
// name and schema it may call up front.
func buildAgents(p *config.Process, toolReg *tools.Registry) map[store.AgentID]agent.Agent {
	specs := toolReg.Specs()
	toolSpecs := make([]agent.ToolSpec, 0, len(specs))
	for _, s := range specs {
		toolSpecs = append(toolSpecs, agent.ToolSpec{
			Name:        s.Name,
			Description: s.Description,
			InputSchema: s.Parameters,
		})
	}

	a := agent.NewAnthropicAgent(p.AnthropicAPIKey, p.AnthropicBaseURL,
		agent.WithAnthropicMaxTokens(4096),
		agent.WithAnthropicSystemPrompt(p.SystemPrompt),
		agent.WithAnthropicTools(toolSpecs),
	)
	return map[store.AgentID]agent.Agent{
		"default": a,
	}
}

func buildTools(st store.Store, tr transport.Transport) []tools.Tool {
	return []tools.Tool{
		tools.NewSendImageTool(tr, st),
		tools.NewSendLocationTool(tr, st),
		tools.NewSendTemplateTool(tr, st),
		tools.NewDownloadMediaTool(tr),
		tools.NewSubmitActionTool(st),
	}
}
