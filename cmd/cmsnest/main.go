// Command cmsnest composes HTML pages from fragments of other same-origin
// pages marked with data-cms-nest attributes.
//
// Usage:
//
//	cmsnest -url https://example.com/page                  # compose one page to stdout
//	cmsnest -file page.html -base https://example.com/page # compose a local file
//	cmsnest -url https://example.com/page -browser         # load the host page in Chrome
//	cmsnest -serve :8086 -config cmsnest.yaml              # HTTP composition service
//	cmsnest -mcp                                           # MCP server on stdio
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"golang.org/x/net/html"

	"github.com/hazyhaar/cmsnest/nest"
)

type options struct {
	configPath string
	pageURL    string
	file       string
	base       string
	browser    bool
	format     string
	out        string
	serve      string
	mcp        bool
	dbPath     string
}

func main() {
	var o options
	flag.StringVar(&o.configPath, "config", "", "path to cmsnest.yaml config file")
	flag.StringVar(&o.pageURL, "url", "", "compose the page at this URL")
	flag.StringVar(&o.file, "file", "", "compose a local HTML file (requires -base)")
	flag.StringVar(&o.base, "base", "", "URL the -file page is served from")
	flag.BoolVar(&o.browser, "browser", false, "load host pages in headless Chrome")
	flag.StringVar(&o.format, "format", "html", "output format: html, markdown")
	flag.StringVar(&o.out, "out", "", "write the composed page here instead of stdout")
	flag.StringVar(&o.serve, "serve", "", "serve HTTP on this address (\"config\" uses server.addr)")
	flag.BoolVar(&o.mcp, "mcp", false, "serve MCP tools on stdio")
	flag.StringVar(&o.dbPath, "db", "", "SQLite report store (overrides store.path)")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, o); err != nil {
		logger.Error("cmsnest: fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, o options) error {
	cfg := nest.DefaultConfig()
	if o.configPath != "" {
		var err error
		if cfg, err = nest.LoadConfigFile(o.configPath); err != nil {
			return fmt.Errorf("load config: %w", err)
		}
	}
	if o.dbPath != "" {
		cfg.Store.Path = o.dbPath
	}
	if o.browser {
		cfg.Server.Source = "browser"
	}

	var (
		extra []nest.Option
		store *nest.Store
	)
	if cfg.Store.Path != "" {
		st, err := nest.OpenStore(cfg.Store.Path)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer st.Close()
		store = st
		extra = append(extra, nest.WithSinks(nest.NewStoreSink(st)))
	}

	n, err := nest.NewFromConfig(cfg, logger, extra...)
	if err != nil {
		return err
	}
	defer n.Close()

	loader := n.HTTPLoader()
	if cfg.Server.Source == "browser" {
		bl := nest.NewBrowserLoader(cfg.Browser, logger, cfg.Server.BlockPrivate)
		defer bl.Close()
		loader = bl
	}

	svcCfg := nest.ServiceConfig{
		Loader: loader,
		Origin: cfg.Server.Origin,
		Logger: logger,
	}
	if store != nil {
		// A nil *Store must not become a non-nil RunStore.
		svcCfg.Store = store
	}
	svc := nest.NewService(n, svcCfg)

	switch {
	case o.mcp:
		return runMCP(ctx, svc)
	case o.serve != "":
		addr := o.serve
		if addr == "config" {
			addr = cfg.Server.Addr
		}
		return runServe(ctx, logger, svc, addr)
	case o.pageURL != "" || o.file != "":
		return runCompose(ctx, n, loader, o)
	}

	fmt.Fprintln(os.Stderr, "usage: cmsnest -url <url> | -file <path> -base <url> | -serve <addr> | -mcp")
	return errors.New("no mode selected")
}

func runCompose(ctx context.Context, n *nest.Nester, loader nest.Loader, o options) error {
	format, err := nest.ParseFormat(o.format)
	if err != nil {
		return err
	}

	pageURL := o.pageURL
	if o.file != "" {
		if o.base == "" {
			return errors.New("-file requires -base")
		}
		pageURL = o.base
	}

	hostDoc, err := loadHost(ctx, loader, o.file, pageURL)
	if err != nil {
		return err
	}
	if _, err := n.Run(ctx, hostDoc, pageURL); err != nil {
		return err
	}

	var w io.Writer = os.Stdout
	if o.out != "" {
		f, err := os.Create(o.out)
		if err != nil {
			return fmt.Errorf("create output: %w", err)
		}
		defer f.Close()
		w = f
	}
	return nest.Render(w, hostDoc, format, pageURL)
}

func loadHost(ctx context.Context, loader nest.Loader, file, pageURL string) (*html.Node, error) {
	if file != "" {
		return nest.LoadFile(file)
	}
	return loader.Load(ctx, pageURL)
}

func runServe(ctx context.Context, logger *slog.Logger, svc *nest.Service, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           svc.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("cmsnest: server starting", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	logger.Info("cmsnest: shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("cmsnest: shutdown", "error", err)
	}
	logger.Info("cmsnest: server stopped")
	return nil
}

func runMCP(ctx context.Context, svc *nest.Service) error {
	srv := mcp.NewServer(&mcp.Implementation{Name: "cmsnest", Version: "0.1.0"}, nil)
	svc.RegisterMCP(srv)
	return srv.Run(ctx, &mcp.StdioTransport{})
}
