package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"onboard/internal/backend"
	"onboard/internal/bridge"
	"onboard/internal/browser"
	"onboard/internal/control"
	"onboard/internal/guide"
	"onboard/internal/journal"
	"onboard/internal/navwatch"
	"onboard/internal/overlay"
	"onboard/internal/progress"
	"onboard/internal/resolve"
)

var (
	guideURL    string
	guideAttach string
)

var guideCmd = &cobra.Command{
	Use:   "guide",
	Short: "Start a guidance session in a browser",
	Long: `Opens (or attaches to) a Chrome page, looks up the employee's active
task, and overlays step-by-step guidance while they work.

Examples:
  onboard guide --url https://github.com
  onboard guide --attach github.com    # attach to an already-open tab`,
	RunE: runGuide,
}

func init() {
	guideCmd.Flags().StringVar(&guideURL, "url", "https://github.com", "Page to open")
	guideCmd.Flags().StringVar(&guideAttach, "attach", "", "Attach to an open tab matching this URL fragment instead of opening one")
}

func runGuide(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println("\nShutting down...")
		cancel()
	}()

	session := browser.NewSession(browser.Config{
		DebuggerURL:         cfg.Browser.DebuggerURL,
		Launch:              cfg.Browser.Launch,
		Headless:            cfg.Browser.Headless,
		ViewportWidth:       cfg.Browser.ViewportWidth,
		ViewportHeight:      cfg.Browser.ViewportHeight,
		NavigationTimeoutMs: cfg.Browser.NavigationTimeoutMs,
	})
	if err := session.Start(ctx); err != nil {
		return fmt.Errorf("failed to start browser: %w", err)
	}
	defer session.Stop()
	logger.Info("browser session started",
		zap.Bool("headless", cfg.Browser.Headless),
		zap.String("employee", cfg.Backend.EmployeeID))

	if guideAttach != "" {
		if err := session.AttachPage(ctx, guideAttach); err != nil {
			return fmt.Errorf("failed to attach to %q: %w", guideAttach, err)
		}
	} else {
		if err := session.OpenPage(ctx, guideURL); err != nil {
			return fmt.Errorf("failed to open %s: %w", guideURL, err)
		}
	}
	if err := session.InstallHooks(ctx); err != nil {
		return fmt.Errorf("failed to install page hooks: %w", err)
	}

	client := backend.NewClient(
		bridge.NewHTTPBridge(cfg.BackendTimeout(), cfg.Backend.APIKey),
		cfg.Backend.BaseURL,
	)

	watcher := navwatch.New(session, cfg.Navigation)
	if err := watcher.Start(ctx); err != nil {
		return fmt.Errorf("failed to start navigation watcher: %w", err)
	}
	defer watcher.Stop()

	deps := guide.Deps{
		Backend:  client,
		Page:     session,
		Resolver: resolve.New(session),
		Renderer: overlay.New(session, cfg.Overlay),
		Trigger:  progress.NewTrigger(session),
		Nav:      watcher.Changes(),
		NavSink:  watcher.NoteURL,
	}

	if cfg.Journal.Enabled {
		j, err := journal.Open(cfg.Journal.Path)
		if err != nil {
			return fmt.Errorf("failed to open journal: %w", err)
		}
		defer j.Close()
		deps.Recorder = j
	}

	ctl := guide.New(cfg, deps)
	if err := ctl.Run(ctx); err != nil {
		return err
	}
	defer ctl.Close()

	if cfg.Control.Enabled {
		srv := control.NewServer(cfg.Control, ctl)
		if err := srv.Listen(); err != nil {
			return fmt.Errorf("failed to start control surface: %w", err)
		}
		defer srv.Close()
		ctl.Subscribe(srv.Broadcast)
		fmt.Printf("Control surface: ws://%s/ws\n", srv.Addr())
	}

	ctl.Subscribe(func(s guide.Status) {
		switch s.State {
		case guide.StateActive:
			if s.Task != nil {
				fmt.Printf("Guiding: %s (step %d/%d)\n", s.Task.Title, s.StepNumber, s.TotalSteps)
			}
		case guide.StateComplete:
			fmt.Println("Task complete!")
		case guide.StateIdle:
			fmt.Println("No active task; waiting.")
		}
	})

	if !cfg.Guide.AutoStart {
		ctl.Start()
	}

	fmt.Printf("Guidance session running for %s. Press Ctrl+C to stop.\n", cfg.Backend.EmployeeID)
	<-ctx.Done()
	return nil
}
