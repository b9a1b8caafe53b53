package main

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"onboard/internal/domsample"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect [url-or-html-file]",
	Short: "Sample a page or HTML file the way the live page sampler does",
	Long: `Fetches a URL (or parses a local HTML file) and prints the element
summary and visible text that would be sent to the backend, useful for
checking what a guidance fetch will see without a browser.`,
	Args: cobra.ExactArgs(1),
	RunE: runInspect,
}

func runInspect(cmd *cobra.Command, args []string) error {
	src, err := openInspectSource(args[0])
	if err != nil {
		return err
	}
	defer src.Close()

	pc, err := domsample.FromHTML(src, cfg.Guide.MaxDOMElements, cfg.Guide.MaxVisibleChars)
	if err != nil {
		return fmt.Errorf("failed to sample %s: %w", args[0], err)
	}

	if pc.PageTitle != "" {
		fmt.Printf("Title: %s\n\n", pc.PageTitle)
	}
	fmt.Printf("Elements (%d):\n", len(pc.DOMElements))
	for _, el := range pc.DOMElements {
		fmt.Printf("  %s\n", el)
	}
	if pc.VisibleText != "" {
		fmt.Printf("\nVisible text (%d chars):\n%s\n", len(pc.VisibleText), pc.VisibleText)
	}
	return nil
}

func openInspectSource(arg string) (io.ReadCloser, error) {
	if strings.HasPrefix(arg, "http://") || strings.HasPrefix(arg, "https://") {
		client := &http.Client{Timeout: 30 * time.Second}
		resp, err := client.Get(arg)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch %s: %w", arg, err)
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return nil, fmt.Errorf("failed to fetch %s: status %d", arg, resp.StatusCode)
		}
		return resp.Body, nil
	}
	f, err := os.Open(arg)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", arg, err)
	}
	return f, nil
}
