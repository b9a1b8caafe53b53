package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"onboard/internal/devserver"
	"onboard/internal/kb"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the bundled demo backend",
	Long: `Starts an in-memory demo backend with fixture employees and tasks.
It implements the guidance API plus a small CRM surface, so "onboard guide"
can be exercised end to end without a production backend.

The fixtures reset on restart, or on demand via POST /api/reset.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "127.0.0.1:8000", "Listen address")
}

func runServe(cmd *cobra.Command, args []string) error {
	source, err := openCatalog(cmd.Context())
	if err != nil {
		return err
	}

	srv := devserver.New(source, cfg.Matcher)
	if err := srv.Listen(serveAddr); err != nil {
		return fmt.Errorf("failed to listen on %s: %w", serveAddr, err)
	}
	defer srv.Close()
	logger.Info("demo backend listening",
		zap.String("addr", srv.Addr()),
		zap.Strings("catalog", source.Current().ActionKeys()))

	fmt.Printf("Demo backend on http://%s\n", srv.Addr())
	fmt.Println("Employees: emp_001 (John Doe), emp_002 (Jane Smith)")
	fmt.Println("Press Ctrl+C to stop.")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigCh:
	case <-cmd.Context().Done():
	}
	return nil
}

// openCatalog serves the KB file with hot reload when it exists, or the
// built-in catalog when it does not.
func openCatalog(ctx context.Context) (devserver.CatalogSource, error) {
	store, err := kb.OpenStore(cfg.KB.Path)
	if errors.Is(err, fs.ErrNotExist) {
		catalog, derr := kb.Default()
		if derr != nil {
			return nil, fmt.Errorf("failed to load built-in knowledge base: %w", derr)
		}
		return catalog, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load knowledge base: %w", err)
	}
	if cfg.KB.HotReload {
		if werr := store.Watch(ctx); werr != nil {
			logger.Warn("knowledge base watch failed; serving a fixed catalog",
				zap.Error(werr))
		}
	}
	return store, nil
}
