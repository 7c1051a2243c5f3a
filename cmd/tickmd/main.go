// Command tickmd exports issue tracker tickets as Markdown documents with
// locally downloaded images.
//
// Usage:
//
//	tickmd -ticket PROJ-123                  # export one ticket
//	tickmd -jql 'project = PROJ' -max 50     # export a query result
//	tickmd -keys-file keys.txt               # export keys listed in a file
//	tickmd -localize ./output                # localize images in existing .md files
//	tickmd -serve ./output                   # preview rendered documents
//	tickmd -mcp                              # expose tools over MCP stdio
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/tickmd/tickmd/config"
	"github.com/tickmd/tickmd/convert"
	"github.com/tickmd/tickmd/jira"
	"github.com/tickmd/tickmd/localize"
	"github.com/tickmd/tickmd/preview"
	"github.com/tickmd/tickmd/writer"
)

type options struct {
	configPath  string
	ticket      string
	jql         string
	keysFile    string
	max         int
	out         string
	overwrite   bool
	noImages    bool
	localizeDir string
	serveDir    string
	serveAddr   string
	mcpMode     bool
	check       bool
	listFields  bool
}

func main() {
	var opts options
	flag.StringVar(&opts.configPath, "config", "", "path to tickmd.yaml config file")
	flag.StringVar(&opts.ticket, "ticket", "", "export a single ticket by key")
	flag.StringVar(&opts.jql, "jql", "", "export all tickets matching a JQL query")
	flag.StringVar(&opts.keysFile, "keys-file", "", "export ticket keys listed in a file, one per line")
	flag.IntVar(&opts.max, "max", 0, "cap the number of tickets exported from a query")
	flag.StringVar(&opts.out, "out", "", "output directory (overrides config)")
	flag.BoolVar(&opts.overwrite, "overwrite", false, "overwrite existing .md files")
	flag.BoolVar(&opts.noImages, "no-images", false, "skip image localization after export")
	flag.StringVar(&opts.localizeDir, "localize", "", "localize images in an existing directory of .md files and exit")
	flag.StringVar(&opts.serveDir, "serve", "", "serve a rendered preview of a directory and block")
	flag.StringVar(&opts.serveAddr, "addr", "", "preview listen address (default 127.0.0.1:8088)")
	flag.BoolVar(&opts.mcpMode, "mcp", false, "expose tickmd tools over MCP stdio")
	flag.BoolVar(&opts.check, "check", false, "verify tracker connectivity and credentials, then exit")
	flag.BoolVar(&opts.listFields, "list-fields", false, "list the tracker's custom fields, then exit")
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
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, opts); err != nil {
		logger.Error("tickmd: fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, opts options) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		// Preview, localization and MCP serving can run without a
		// tracker configured.
		offline := opts.serveDir != "" || opts.localizeDir != "" || opts.mcpMode
		if !offline || !errors.Is(err, config.ErrMissingURL) {
			return err
		}
		cfg = config.Default()
	}
	if opts.out != "" {
		cfg.Output.Directory = opts.out
	}
	if opts.overwrite {
		cfg.Output.Overwrite = true
	}

	switch {
	case opts.serveDir != "":
		return runServe(ctx, logger, opts.serveDir, opts.serveAddr)
	case opts.localizeDir != "":
		return runLocalize(ctx, logger, cfg, opts.localizeDir)
	case opts.mcpMode:
		return runMCP(ctx, logger, cfg)
	case opts.check:
		return runCheck(ctx, logger, cfg)
	case opts.listFields:
		return runListFields(ctx, logger, cfg)
	case opts.ticket != "" || opts.jql != "" || opts.keysFile != "":
		return runExport(ctx, logger, cfg, opts)
	}

	fmt.Fprintln(os.Stderr, "usage: tickmd -ticket <key> | -jql <query> | -keys-file <file> | -localize <dir> | -serve <dir> | -mcp | -check | -list-fields")
	os.Exit(1)
	return nil
}

func newClient(cfg *config.Config, logger *slog.Logger) (*jira.Client, error) {
	return jira.New(jira.Config{
		URL:       cfg.Jira.URL,
		Username:  cfg.Jira.Username,
		APIToken:  cfg.Jira.APIToken,
		VerifySSL: cfg.Jira.VerifySSLEnabled(),
		Logger:    logger,
	})
}

func newLocalizer(cfg *config.Config, logger *slog.Logger) *localize.Pipeline {
	return localize.New(localize.Config{
		TrackerURL:  cfg.Jira.URL,
		Username:    cfg.Jira.Username,
		APIToken:    cfg.Jira.APIToken,
		InsecureTLS: !cfg.Jira.VerifySSLEnabled(),
		AssetDir:    cfg.Images.Directory,
		MaxBytes:    int64(cfg.Images.MaxSizeMB) << 20,
		Concurrency: cfg.Images.Concurrency,
		Logger:      logger,
	})
}

func runExport(ctx context.Context, logger *slog.Logger, cfg *config.Config, opts options) error {
	client, err := newClient(cfg, logger)
	if err != nil {
		return err
	}

	tickets, err := fetchTickets(ctx, client, opts)
	if err != nil {
		return err
	}
	if len(tickets) == 0 {
		logger.Warn("tickmd: nothing to export")
		return nil
	}

	renderer := convert.New(convert.Options{
		BaseURL:       cfg.Jira.BaseURL(),
		MetadataTable: cfg.Markdown.MetadataTable(),
		Comments:      cfg.Markdown.Comments(),
		Attachments:   cfg.Markdown.Attachments(),
		Subtasks:      cfg.Markdown.Subtasks(),
		Links:         cfg.Markdown.Links(),
		ConvertMarkup: cfg.Markdown.Markup(),
		DateFormat:    cfg.Markdown.DateFormat,
		Logger:        logger,
	})
	w := writer.New(writer.Config{
		Dir:            cfg.Output.Directory,
		Overwrite:      cfg.Output.Overwrite,
		FilenameFormat: cfg.Output.FilenameFormat,
		Logger:         logger,
	})

	written := 0
	for _, t := range tickets {
		if err := ctx.Err(); err != nil {
			return err
		}
		_, ok, err := w.WriteTicket(t, renderer.Render(t))
		if err != nil {
			logger.Error("tickmd: write failed", "key", t.Key, "error", err)
			continue
		}
		if ok {
			written++
		}
	}
	logger.Info("tickmd: export complete", "tickets", len(tickets), "written", written)

	if opts.noImages || written == 0 {
		return nil
	}
	return runLocalize(ctx, logger, cfg, cfg.Output.Directory)
}

func fetchTickets(ctx context.Context, client *jira.Client, opts options) ([]*jira.Ticket, error) {
	switch {
	case opts.ticket != "":
		t, err := client.Issue(ctx, opts.ticket)
		if err != nil {
			return nil, err
		}
		return []*jira.Ticket{t}, nil

	case opts.jql != "":
		if opts.max > 0 {
			return client.Search(ctx, opts.jql, opts.max)
		}
		return client.SearchAll(ctx, opts.jql)

	case opts.keysFile != "":
		keys, err := readKeys(opts.keysFile)
		if err != nil {
			return nil, err
		}
		var tickets []*jira.Ticket
		for _, key := range keys {
			t, err := client.Issue(ctx, key)
			if err != nil {
				return nil, fmt.Errorf("fetch %s: %w", key, err)
			}
			tickets = append(tickets, t)
		}
		return tickets, nil
	}
	return nil, nil
}

func readKeys(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open keys file: %w", err)
	}
	defer f.Close()

	var keys []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		key := strings.TrimSpace(sc.Text())
		if key == "" || strings.HasPrefix(key, "#") {
			continue
		}
		keys = append(keys, key)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read keys file: %w", err)
	}
	return keys, nil
}

func runLocalize(ctx context.Context, logger *slog.Logger, cfg *config.Config, dir string) error {
	res, err := newLocalizer(cfg, logger).ProcessDir(ctx, dir)
	if err != nil {
		return err
	}
	for _, e := range res.Errors {
		logger.Warn("tickmd: localize issue", "error", e)
	}
	fmt.Printf("localized %d documents: %d images downloaded, %d skipped, %d failed\n",
		len(res.Documents), res.Downloaded, res.Skipped, res.Failed)
	return nil
}

func runServe(ctx context.Context, logger *slog.Logger, dir, addr string) error {
	srv := preview.New(preview.Config{Dir: dir, Addr: addr, Logger: logger})
	fmt.Printf("preview on http://%s\n", srv.Addr())
	return srv.ListenAndServe(ctx)
}

func runMCP(ctx context.Context, logger *slog.Logger, cfg *config.Config) error {
	srv := mcp.NewServer(&mcp.Implementation{
		Name:    "tickmd",
		Version: "1.0.0",
	}, nil)
	newLocalizer(cfg, logger).RegisterMCP(srv)

	logger.Info("tickmd: MCP stdio server starting")
	return srv.Run(ctx, &mcp.StdioTransport{})
}

func runCheck(ctx context.Context, logger *slog.Logger, cfg *config.Config) error {
	client, err := newClient(cfg, logger)
	if err != nil {
		return err
	}
	desc, err := client.Check(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("connected to %s as %s\n", cfg.Jira.URL, desc)
	return nil
}

func runListFields(ctx context.Context, logger *slog.Logger, cfg *config.Config) error {
	client, err := newClient(cfg, logger)
	if err != nil {
		return err
	}
	fields, err := client.CustomFields(ctx)
	if err != nil {
		return err
	}

	ids := make([]string, 0, len(fields))
	for id := range fields {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		fmt.Printf("%s\t%s\n", id, fields[id])
	}
	return nil
}
