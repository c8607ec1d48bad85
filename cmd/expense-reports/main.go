package main

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"
	"golang.org/x/sync/errgroup"
	"golang.org/x/text/language"

	"github.com/zombor/expense-reports/internal/backup"
	"github.com/zombor/expense-reports/internal/expense"
	"github.com/zombor/expense-reports/internal/money"
	"github.com/zombor/expense-reports/internal/report"
	"github.com/zombor/expense-reports/internal/scanning"
	"github.com/zombor/expense-reports/internal/server"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

func main() {
	// Check for version flag before parsing other flags
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Println(version)
			os.Exit(0)
		}
	}

	// A missing .env is fine; flags and the environment still apply
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("Failed to load .env", "error", err)
	}

	fs := ff.NewFlagSet("expense-reports")
	var (
		port        = fs.IntLong("port", 8080, "HTTP server port")
		dbPath      = fs.StringLong("db", "expense-reports.db", "Database file path")
		documents   = fs.StringLong("documents", "./documents", "Documents directory; receipt images live under Receipts/")
		exportsDir  = fs.StringLong("exports", "", "Directory for generated reports (default: OS temp dir)")
		backupsDir  = fs.StringLong("backups", "", "Backup directory (default: <documents>/Backups)")
		prefix      = fs.StringLong("prefix", report.DefaultPrefix, "Prefix for report and backup names")
		currency    = fs.StringLong("currency", money.DefaultCurrency, "ISO 4217 currency used until preferences choose one")
		locale      = fs.StringLong("locale", "en-US", "BCP 47 locale for number grouping and decimal separators")
		scannerType = fs.StringLong("scanner", "gemini", "Scanner type: 'gemini', 'ollama' or 'none'")
		geminiKey   = fs.StringLong("gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY env var)")
		geminiModel = fs.StringLong("gemini-model", "gemini-2.5-pro", "Google Gemini model name")
		ollamaURL   = fs.StringLong("ollama-url", "http://localhost:11434", "Ollama API base URL")
		ollamaModel = fs.StringLong("ollama-model", "llava", "Ollama model name (e.g., llava, llava-phi3, bakllava, qwen2-vl)")
		authUser    = fs.StringLong("auth-user", "", "Basic auth username (optional)")
		authPass    = fs.StringLong("auth-pass", "", "Basic auth password (optional)")
		showVersion = fs.BoolLong("version", "Show version information")
	)

	if err := ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix("EXPENSE_REPORTS"),
	); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	// Check version flag after parsing
	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	tag, err := language.Parse(*locale)
	if err != nil {
		slog.Error("Invalid locale", "locale", *locale, "error", err)
		os.Exit(1)
	}
	formatter, err := money.NewFormatter(*currency, tag)
	if err != nil {
		slog.Error("Invalid currency", "currency", *currency, "error", err)
		os.Exit(1)
	}

	// Initialize database
	slog.Info("Initializing database...")
	db, err := expense.NewBoltDB(*dbPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	recognizer, err := newRecognizer(*scannerType, *geminiKey, *geminiModel, *ollamaURL, *ollamaModel)
	if err != nil {
		slog.Error("Failed to initialize scanner", "type", *scannerType, "error", err)
		os.Exit(1)
	}
	scanner := scanning.NewScanner(recognizer)
	defer scanner.Close()

	// Initialize storage
	slog.Info("Initializing storage...", "documents", *documents)
	store, err := expense.NewLocalStorage(*documents)
	if err != nil {
		slog.Error("Failed to initialize storage", "error", err)
		os.Exit(1)
	}

	// Initialize service
	expenseService := expense.NewService(db, scanner, store, formatter)
	prefs, err := expenseService.EnsureDefaults(formatter.Code())
	if err != nil {
		slog.Error("Failed to seed defaults", "error", err)
		os.Exit(1)
	}
	slog.Info("Currency configured", "currency", prefs.CurrencyCode)

	if n, err := expenseService.GenerateRecurring(time.Time{}); err != nil {
		slog.Warn("Recurring generation failed", "error", err)
	} else if n > 0 {
		slog.Info("Caught up recurring expenses", "generated", n)
	}

	exporter, err := report.NewExporter(*exportsDir, *prefix, formatter, store)
	if err != nil {
		slog.Error("Failed to initialize exporter", "error", err)
		os.Exit(1)
	}

	if *backupsDir == "" {
		*backupsDir = filepath.Join(*documents, "Backups")
	}
	backups, err := backup.NewManager(*backupsDir, *prefix, db, store, formatter)
	if err != nil {
		slog.Error("Failed to initialize backups", "error", err)
		os.Exit(1)
	}

	// Initialize server
	basicAuth := server.BasicAuth{
		Username: *authUser,
		Password: *authPass,
	}
	srv := server.NewServer(expenseService, exporter, backups, basicAuth)

	addr := fmt.Sprintf(":%d", *port)
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("Server started", "address", fmt.Sprintf("http://localhost%s", addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		slog.Info("Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if *authUser != "" || *authPass != "" {
		slog.Info("Basic auth enabled", "user", *authUser)
	}

	if err := g.Wait(); err != nil {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}
}

// newRecognizer builds the configured text recognition engine
func newRecognizer(kind, geminiKey, geminiModel, ollamaURL, ollamaModel string) (scanning.Recognizer, error) {
	switch kind {
	case "gemini":
		// Get Gemini API key from flag or environment
		apiKey := geminiKey
		if apiKey == "" {
			apiKey = os.Getenv("GEMINI_API_KEY")
		}
		if apiKey == "" {
			return nil, errors.New("gemini API key is required. Set --gemini-key flag or GEMINI_API_KEY environment variable")
		}
		slog.Info("Initializing Gemini scanner...", "model", geminiModel)
		return scanning.NewGemini(apiKey, geminiModel)
	case "ollama":
		slog.Info("Initializing Ollama scanner...", "url", ollamaURL, "model", ollamaModel)
		return scanning.NewOllama(ollamaURL, ollamaModel)
	case "none":
		slog.Info("Text recognition disabled; scans will fall back to manual entry")
		return scanning.Unavailable{}, nil
	}
	return nil, fmt.Errorf("invalid scanner type %q, valid: gemini, ollama or none", kind)
}
