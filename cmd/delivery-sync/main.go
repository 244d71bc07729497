package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/alexjbarnes/delivery-sync/internal/config"
	"github.com/alexjbarnes/delivery-sync/internal/gallery"
	"github.com/alexjbarnes/delivery-sync/internal/logging"
	"github.com/alexjbarnes/delivery-sync/internal/mcpserver"
	"github.com/alexjbarnes/delivery-sync/internal/state"
	"github.com/docker/go-units"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"golang.org/x/sync/errgroup"
)

var Version = "dev"

func main() {
	var err error

	if len(os.Args) > 1 && os.Args[1] == "download" {
		err = runDownload(os.Args[2:])
	} else {
		err = run()
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// stdout carries the MCP protocol when it is enabled.
	var logOut io.Writer = os.Stdout
	if cfg.EnableMCP {
		logOut = os.Stderr
	}

	logger := logging.NewLogger(cfg.Environment, cfg.LogLevel, logOut)
	logger.Info("delivery-sync starting",
		slog.String("version", Version),
		slog.String("root", cfg.RootID),
		slog.Bool("mcp", cfg.EnableMCP),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	session, closeSession, err := openSession(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeSession()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return session.Run(gctx)
	})

	if cfg.EnableMCP {
		g.Go(func() error {
			return runMCP(gctx, session, logger)
		})
	}

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		return err
	}

	logger.Info("shutting down")

	return nil
}

// openSession opens the state database, builds the session and runs
// its startup fetch. The returned func closes both.
func openSession(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*gallery.Session, func(), error) {
	statePath, err := cfg.ResolvedStatePath()
	if err != nil {
		return nil, nil, err
	}

	appState, err := state.LoadAt(statePath)
	if err != nil {
		return nil, nil, fmt.Errorf("loading state: %w", err)
	}

	session := gallery.NewSession(gallery.SessionConfig{
		RootID:       cfg.RootID,
		FeedURL:      cfg.FeedURL,
		Token:        cfg.APIToken,
		API:          gallery.NewClient(nil, cfg.APIURL, cfg.APIToken),
		State:        appState,
		Saver:        gallery.DirSaver{Dir: cfg.DownloadDir, Manifest: cfg.DownloadManifest},
		PollInterval: cfg.PollInterval,
		RefreshDelay: cfg.RefreshDelay,
		MaxBytes:     cfg.DownloadMaxBytes(),
	}, logger)

	closeAll := func() {
		if err := session.Close(); err != nil {
			logger.Debug("closing session", slog.String("error", err.Error()))
		}

		appState.Close()
	}

	if err := session.Start(ctx); err != nil {
		closeAll()
		return nil, nil, fmt.Errorf("starting session: %w", err)
	}

	return session, closeAll, nil
}

// runMCP serves the operator tools over stdio until the client
// disconnects or ctx is cancelled.
func runMCP(ctx context.Context, session *gallery.Session, logger *slog.Logger) error {
	mcpLogger := logger.With(slog.String("service", "mcp"))

	server := mcp.NewServer(
		&mcp.Implementation{Name: "delivery-sync", Version: Version},
		nil,
	)
	mcpserver.RegisterTools(server, session, mcpLogger)

	mcpLogger.Info("serving MCP on stdio")

	if err := server.Run(ctx, &mcp.StdioTransport{}); err != nil && ctx.Err() == nil {
		return fmt.Errorf("MCP server error: %w", err)
	}

	return nil
}

// runDownload is the one-shot "download <folder-path>" or
// "download --files id,id" command.
func runDownload(args []string) error {
	fs := flag.NewFlagSet("download", flag.ContinueOnError)
	files := fs.String("files", "", "comma-separated file ids to download instead of a folder")

	if err := fs.Parse(args); err != nil {
		return err
	}

	var ids []string

	for _, id := range strings.Split(*files, ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}

	folderPath := strings.Join(fs.Args(), " ")
	if len(ids) == 0 && folderPath == "" {
		return fmt.Errorf("usage: delivery-sync download <folder-path> | --files id,id")
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := logging.NewLogger(cfg.Environment, cfg.LogLevel, os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	session, closeSession, err := openSession(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeSession()

	progress := func(p gallery.Progress) {
		switch v := p.(type) {
		case gallery.Creating:
			logger.Info("assembling archive",
				slog.Int("percent", v.Percent),
				slog.Int("files_processed", v.FilesProcessed),
				slog.Int("total_files", v.TotalFiles),
			)
		case gallery.Downloading:
			logger.Debug("downloading",
				slog.Int("percent", v.Percent),
				slog.String("received", units.HumanSize(float64(v.ReceivedBytes))),
			)
		case gallery.Failed:
			logger.Error("download failed", slog.String("reason", v.Reason))
		}
	}

	var result *gallery.Result
	if len(ids) > 0 {
		result, err = session.Downloader.DownloadSelection(ctx, ids, progress)
	} else {
		result, err = session.Downloader.DownloadFolder(ctx, folderPath, progress)
	}

	if err != nil {
		return err
	}

	fmt.Println(result.Path)

	return nil
}
