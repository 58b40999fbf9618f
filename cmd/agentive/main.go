package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/agentive-dev/agentive/agent"
	"github.com/agentive-dev/agentive/config"
	"github.com/agentive-dev/agentive/log"
	"github.com/agentive-dev/agentive/provider"
	"github.com/agentive-dev/agentive/session"
	"github.com/agentive-dev/agentive/terminal"
	"github.com/agentive-dev/agentive/tool"
	"github.com/agentive-dev/agentive/tool/builtin"
	"github.com/agentive-dev/agentive/tool/mcp"
)

func main() {
	modeFlag := flag.String("m", "", "Execution mode: 'auto' or 'prompt'")
	sessionFlag := flag.String("s", "", "Session name to create or use")
	toolsetFlag := flag.String("t", "", "Toolset to use (defaults to 'default')")
	resumeFlag := flag.String("r", "", "Resume a session by name")
	verbosityFlag := flag.String("tool-verbosity", "none", "Tool verbosity level: 'none', 'info', or 'all'")
	systemFlag := flag.String("system", "", "System prompt for new sessions")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %+v\n", err)
		os.Exit(1)
	}
	if cfg.LogLevel != "" {
		log.SetLevel(cfg.LogLevel)
	}

	ctx := context.Background()
	maxIterations := resolveMaxIterations(cfg)

	var sess *session.Session
	if *resumeFlag != "" {
		sess, err = session.Load(*resumeFlag)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error resuming session '%s': %+v\n", *resumeFlag, err)
			os.Exit(1)
		}
		if sess.Context.MaxIterations <= 0 {
			sess.Context.MaxIterations = maxIterations
		}
		fmt.Printf("Resuming session: %s\n", *resumeFlag)
	} else {
		name := *sessionFlag
		if name == "" {
			name = defaultSessionName()
		}
		ec := agent.NewContext(name, *systemFlag, maxIterations)
		sess, err = session.New(name, ec)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error creating session '%s': %+v\n", name, err)
			os.Exit(1)
		}
		fmt.Printf("Starting new session: %s\n", name)
	}

	mode := terminal.ModePrompt
	switch *modeFlag {
	case "", "prompt":
	case "auto":
		mode = terminal.ModeAuto
	default:
		fmt.Fprintf(os.Stderr, "Invalid mode '%s'. Must be 'auto' or 'prompt'.\n", *modeFlag)
		os.Exit(1)
	}

	var verbosity terminal.Verbosity
	switch *verbosityFlag {
	case "none":
		verbosity = terminal.VerbosityNone
	case "info":
		verbosity = terminal.VerbosityInfo
	case "all":
		verbosity = terminal.VerbosityAll
	default:
		fmt.Fprintf(os.Stderr, "Invalid tool verbosity '%s'. Must be 'none', 'info', or 'all'.\n", *verbosityFlag)
		os.Exit(1)
	}

	client, err := provider.New(ctx, cfg.Provider, cfg.Model)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing %s client: %+v\n", cfg.Provider, err)
		os.Exit(1)
	}

	registry, closers, err := buildRegistry(ctx, cfg, *toolsetFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error setting up tools: %+v\n", err)
		os.Exit(1)
	}
	defer func() {
		for _, c := range closers {
			c.Close()
		}
	}()

	executor := tool.NewExecutor(registry, tool.WithConcurrency(cfg.ToolConcurrency))
	events := make(chan agent.Event, 64)
	a := agent.New(sess.Name, client,
		agent.WithRegistry(registry),
		agent.WithExecutor(executor),
		agent.WithMaxIterations(maxIterations),
		agent.WithEvents(events),
	)

	initialPrompt := strings.Join(flag.Args(), " ")
	fmt.Println("Agent is ready. Type your prompt.")
	term := terminal.New(a, sess, mode, verbosity, events)
	if err := term.Run(ctx, initialPrompt); err != nil {
		fmt.Fprintf(os.Stderr, "Agent stopped with an error: %+v\n", err)
		os.Exit(1)
	}
}

// buildRegistry assembles builtin and MCP tools, filtered by the
// configured toolset, with the per-tool retry and timeout policy
// applied. Returned closers shut down the MCP server subprocesses.
func buildRegistry(ctx context.Context, cfg *config.Config, toolset string) (*tool.Registry, []*mcp.Client, error) {
	available := builtin.Tools(cfg)

	var closers []*mcp.Client
	for _, server := range cfg.AdditionalMCPServers {
		client, err := mcp.Connect(ctx, server.Name, server.Command, server.Args)
		if err != nil {
			return nil, closers, err
		}
		closers = append(closers, client)
		available = append(available, client.Tools()...)
	}

	selected := available
	if len(cfg.Toolsets) > 0 {
		ts, err := cfg.GetToolset(toolset)
		if err != nil {
			return nil, closers, err
		}
		selected = filterToolset(available, ts)
	}

	registry := tool.NewRegistry()
	for _, t := range selected {
		t.Retries = cfg.ToolRetries
		t.Timeout = cfg.ToolTimeout()
		if err := registry.Register(t); err != nil {
			return nil, closers, err
		}
	}
	return registry, closers, nil
}

func filterToolset(available []tool.Tool, ts *config.Toolset) []tool.Tool {
	wanted := make(map[string]bool, len(ts.Tools))
	for _, name := range ts.Tools {
		wanted[name] = true
	}
	var out []tool.Tool
	for _, t := range available {
		if wanted[t.Name] {
			out = append(out, t)
		}
	}
	return out
}

// resolveMaxIterations applies the engine default when the config
// leaves the limit unset, so an unconfigured CLI run is never
// unbounded.
func resolveMaxIterations(cfg *config.Config) int {
	if cfg.MaxIterations > 0 {
		return cfg.MaxIterations
	}
	return agent.DefaultMaxIterations
}

func defaultSessionName() string {
	wd, err := os.Getwd()
	if err != nil {
		wd = "agentive"
	}
	return fmt.Sprintf("%s_%s", filepath.Base(wd), time.Now().Format("2006-01-02_15-04-05"))
}
