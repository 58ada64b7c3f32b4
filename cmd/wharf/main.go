package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"

	"wharf/internal/core"
)

func main() {
	opts, err := core.ParseArgs(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	client := &http.Client{Timeout: 5 * time.Minute}
	ctx := context.Background()

	failed := 0
	for _, file := range opts.Files {
		resp, err := core.Upload(ctx, client, opts, file)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			failed++
			continue
		}

		preview := resp.PreviewURL
		if preview == "" {
			preview = resp.URL
		}

		fmt.Printf("✓ %s uploaded as %q (%s)\n",
			filepath.Base(file), resp.Slug, humanize.IBytes(uint64(resp.Size)))
		fmt.Printf("  view:     %s\n", preview)
		if resp.DownloadURL != "" {
			fmt.Printf("  download: %s\n", resp.DownloadURL)
		}
	}

	if failed > 0 {
		os.Exit(1)
	}
}
