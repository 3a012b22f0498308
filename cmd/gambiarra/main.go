// Package main is the Gambiarra CLI: a headless AI coding assistant
// split into an orchestration server (gambiarra serve) and a workspace
// client (gambiarra client) talking over a websocket frame protocol.
//
// Environment variables:
//
//   - ANTHROPIC_API_KEY: Anthropic API key
//   - OPENAI_API_KEY: OpenAI API key
//   - GAMBIARRA_SERVER_URL: websocket URL the client dials
//   - GAMBIARRA_LOG_LEVEL: debug|info|warn|error
//   - GAMBIARRA_OTLP_ENDPOINT: OTLP gRPC collector for traces
package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/gambiarra-ai/gambiarra/internal/client"
	"github.com/gambiarra-ai/gambiarra/internal/config"
	"github.com/gambiarra-ai/gambiarra/internal/filectx"
	"github.com/gambiarra-ai/gambiarra/internal/observability"
	"github.com/gambiarra-ai/gambiarra/internal/provider"
	"github.com/gambiarra-ai/gambiarra/internal/registry"
	"github.com/gambiarra-ai/gambiarra/internal/sandbox"
	"github.com/gambiarra-ai/gambiarra/internal/server"
	"github.com/gambiarra-ai/gambiarra/pkg/models"
	"github.com/gambiarra-ai/gambiarra/pkg/protocol"
)

// Build information, populated by ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "gambiarra",
		Short:         "Headless AI coding assistant",
		Long:          "Gambiarra pairs an orchestration server (LLM streaming, agentic loop)\nwith a workspace client (sandboxed tools, approval pipeline) over one\nwebsocket connection.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(buildServeCmd())
	root.AddCommand(buildClientCmd())
	root.AddCommand(buildVersionCmd())
	return root
}

func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Printf("gambiarra %s (commit %s, built %s)\n", version, commit, date)
		},
	}
}

// loadConfig reads the config file when given, falling back to defaults.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

func setupLogger(cfg *config.Config, debug bool) *slog.Logger {
	level := cfg.Logging.Level
	if debug {
		level = "debug"
	}
	logger := observability.NewLogger(observability.LogConfig{
		Level:  level,
		Format: cfg.Logging.Format,
		Output: os.Stderr,
	})
	slog.SetDefault(logger)
	return logger
}

func buildServeCmd() *cobra.Command {
	var (
		configPath string
		addr       string
		debug      bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the orchestration server",
		Long: `Start the orchestration server: it accepts workspace clients over
websocket, streams model output, and drives tool approval and execution
round trips. Shuts down gracefully on SIGINT/SIGTERM.`,
		Example: `  gambiarra serve
  gambiarra serve --config gambiarra.yaml --addr :8765`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			logger := setupLogger(cfg, debug)
			return runServe(cmd.Context(), cfg, addr, logger)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides config)")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	return cmd
}

func runServe(ctx context.Context, cfg *config.Config, addr string, logger *slog.Logger) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	prov, model, err := buildProvider(cfg)
	if err != nil {
		return err
	}

	tracer, shutdownTraces := observability.NewTracer(observability.TraceConfig{
		ServiceName:    "gambiarra",
		ServiceVersion: version,
		Environment:    cfg.Observability.Environment,
		Endpoint:       cfg.Observability.OTLPEndpoint,
		SamplingRate:   cfg.Observability.SamplingRate,
		EnableInsecure: cfg.Observability.Insecure,
	})
	defer func() {
		flushCtx, flushCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer flushCancel()
		_ = shutdownTraces(flushCtx)
	}()

	if addr == "" {
		addr = fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	}
	srv, err := server.New(server.Config{
		Addr:         addr,
		Provider:     prov,
		Model:        model,
		SystemPrompt: cfg.Server.SystemPrompt,
		MaxSessions:  cfg.Server.MaxSessions,
		IdleTimeout:  cfg.Server.IdleTimeout,
		MaxTokens:    cfg.Server.MaxTokens,
		Logger:       logger,
		Metrics:      observability.NewMetrics(),
		Tracer:       tracer,
	})
	if err != nil {
		return err
	}
	return srv.Start(ctx)
}

// buildProvider constructs the configured streaming provider and
// resolves the model name.
func buildProvider(cfg *config.Config) (provider.Provider, string, error) {
	name, settings := cfg.Provider()
	switch name {
	case "anthropic":
		p, err := provider.NewAnthropic(provider.AnthropicConfig{
			APIKey:       settings.APIKey,
			BaseURL:      settings.BaseURL,
			DefaultModel: settings.DefaultModel,
		})
		if err != nil {
			return nil, "", err
		}
		model := settings.DefaultModel
		if model == "" {
			model = provider.DefaultAnthropicModel
		}
		return p, model, nil
	case "openai":
		p, err := provider.NewOpenAI(provider.OpenAIConfig{
			APIKey:       settings.APIKey,
			BaseURL:      settings.BaseURL,
			DefaultModel: settings.DefaultModel,
		})
		if err != nil {
			return nil, "", err
		}
		model := settings.DefaultModel
		if model == "" {
			model = provider.DefaultOpenAIModel
		}
		return p, model, nil
	default:
		return nil, "", fmt.Errorf("unknown provider %q (want anthropic or openai)", name)
	}
}

func buildClientCmd() *cobra.Command {
	var (
		configPath string
		serverURL  string
		workdir    string
		mode       string
		debug      bool
	)
	cmd := &cobra.Command{
		Use:   "client",
		Short: "Start the interactive workspace client",
		Long: `Start the workspace client: it connects to the orchestration server,
creates a session rooted at the working directory, and runs an
interactive console loop. Tool calls run locally behind the path and
command sandboxes after passing the approval pipeline.`,
		Example: `  gambiarra client
  gambiarra client --server ws://localhost:8765/ws --workdir ./project --mode debug`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			logger := setupLogger(cfg, debug)
			if serverURL != "" {
				cfg.Client.ServerURL = serverURL
			}
			if workdir != "" {
				cfg.Client.WorkingDirectory = workdir
			}
			if mode != "" {
				cfg.Client.OperatingMode = mode
			}
			return runClient(cmd.Context(), cfg, logger)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	cmd.Flags().StringVar(&serverURL, "server", "", "Server websocket URL (overrides config)")
	cmd.Flags().StringVar(&workdir, "workdir", "", "Workspace root directory (overrides config)")
	cmd.Flags().StringVar(&mode, "mode", "", "Operating mode: code|ask|architect|debug|review")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	return cmd
}

func runClient(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	paths, err := sandbox.NewPathSandbox(cfg.Client.WorkingDirectory)
	if err != nil {
		return fmt.Errorf("workspace root: %w", err)
	}
	tracker := filectx.New(0)
	console := newConsole(os.Stdin, os.Stdout)

	pipeline := client.NewPipeline(registry.MustNew(), paths, tracker, console.promptApproval,
		client.PipelineConfig{
			AutoApproveReads: cfg.Client.AutoApproveReads,
			StreakCap:        cfg.Client.AutoApproveStreakCap,
			MistakeThreshold: cfg.Client.MistakeThreshold,
			CostCeiling:      cfg.Client.CostCeiling,
		}, logger)

	runner := client.NewRunner(paths, tracker, logger)
	runner.AskUser = console.askUser
	runner.OnCompletion = func(result string) {
		console.printf("\n== Task complete ==\n%s\n", result)
	}
	runner.OnTodos = func(todos string) {
		console.printf("\n== Todo list ==\n%s\n", todos)
	}

	c := client.New(client.Config{
		ServerURL: cfg.Client.ServerURL,
		Session: protocol.SessionConfig{
			WorkingDirectory:         paths.Root(),
			AutoApproveReads:         cfg.Client.AutoApproveReads,
			RequireApprovalForWrites: cfg.Client.RequireApprovalForWrites,
			OperatingMode:            cfg.Client.OperatingMode,
		},
		Logger: logger,
	}, pipeline, runner)
	c.OnChunk = func(content string, complete bool) {
		if complete {
			console.printf("\n")
			console.turnDone()
			return
		}
		console.printf("%s", content)
	}
	c.OnToolDenied = func(tool, reason string) {
		console.printf("\n%s\n", denialLine(tool, reason))
	}
	c.OnServerError = func(code, message string) {
		console.printf("\n[server error] %s: %s\n", code, message)
		console.turnDone()
	}

	if err := c.Connect(ctx); err != nil {
		return err
	}
	runErr := make(chan error, 1)
	go func() { runErr <- c.Run(ctx) }()

	readyCtx, readyCancel := context.WithTimeout(ctx, 15*time.Second)
	defer readyCancel()
	if err := c.WaitReady(readyCtx); err != nil {
		return fmt.Errorf("session handshake: %w", err)
	}
	console.printf("Connected. Session %s in %s mode. Type a request, or /quit.\n",
		c.SessionID(), cfg.Client.OperatingMode)

	go console.readLoop(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-runErr:
			return err
		case line, ok := <-console.lines:
			if !ok {
				return nil
			}
			trimmed := strings.TrimSpace(line)
			if trimmed == "" {
				continue
			}
			if trimmed == "/quit" || trimmed == "/exit" {
				return nil
			}
			if err := c.SendUserMessage(trimmed); err != nil {
				return err
			}
			console.awaitTurn(ctx)
		}
	}
}

// denialLine renders the status line shown when the server records a
// tool denial.
func denialLine(tool, reason string) string {
	return fmt.Sprintf("🚫 Tool denied: %s — %s", tool, reason)
}

// console owns stdin. One goroutine reads lines; the interactive loop
// and the approval prompt take turns consuming them, so a prompt never
// races the next user request.
type console struct {
	in    *bufio.Scanner
	out   *os.File
	lines chan string
	done  chan struct{}
}

func newConsole(in *os.File, out *os.File) *console {
	return &console{
		in:    bufio.NewScanner(in),
		out:   out,
		lines: make(chan string),
		done:  make(chan struct{}, 1),
	}
}

func (c *console) readLoop(ctx context.Context) {
	defer close(c.lines)
	for c.in.Scan() {
		select {
		case c.lines <- c.in.Text():
		case <-ctx.Done():
			return
		}
	}
}

func (c *console) printf(format string, args ...any) {
	fmt.Fprintf(c.out, format, args...)
}

// turnDone signals that the current assistant turn finished.
func (c *console) turnDone() {
	select {
	case c.done <- struct{}{}:
	default:
	}
}

// awaitTurn blocks the request loop until the turn completes so user
// input is not interleaved with streaming output.
func (c *console) awaitTurn(ctx context.Context) {
	select {
	case <-c.done:
	case <-ctx.Done():
	}
}

// promptApproval asks the user to decide on a tool call.
func (c *console) promptApproval(ctx context.Context, req models.PendingApproval) (client.Decision, error) {
	c.printf("\n== Approval required ==\nTool: %s (risk: %s)\n%s\nApprove? [y/N/feedback]: ",
		req.ToolName, req.RiskLevel, req.Description)
	select {
	case <-ctx.Done():
		return client.Decision{}, ctx.Err()
	case line, ok := <-c.lines:
		if !ok {
			return client.Decision{Decision: protocol.DecisionDenied, Feedback: "input closed"}, nil
		}
		answer := strings.TrimSpace(line)
		switch strings.ToLower(answer) {
		case "y", "yes":
			return client.Decision{Decision: protocol.DecisionApproved}, nil
		case "", "n", "no":
			return client.Decision{Decision: protocol.DecisionDenied, Feedback: "Denied by user"}, nil
		default:
			return client.Decision{Decision: protocol.DecisionDenied, Feedback: answer}, nil
		}
	}
}

// askUser answers ask_followup_question from the console.
func (c *console) askUser(ctx context.Context, question string) (string, error) {
	c.printf("\n== Question ==\n%s\n> ", question)
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case line, ok := <-c.lines:
		if !ok {
			return "", fmt.Errorf("input closed")
		}
		return line, nil
	}
}
