package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/condr-at/globoox-preview/internal/config"
	"github.com/condr-at/globoox-preview/internal/epub"
	"github.com/condr-at/globoox-preview/internal/library"
	"github.com/condr-at/globoox-preview/internal/navigation"
	"github.com/condr-at/globoox-preview/internal/paginator"
	"github.com/condr-at/globoox-preview/internal/position"
	"github.com/condr-at/globoox-preview/internal/remote"
	"github.com/condr-at/globoox-preview/internal/server"
	"github.com/condr-at/globoox-preview/internal/state"
	"github.com/condr-at/globoox-preview/internal/storage"
	"github.com/condr-at/globoox-preview/internal/translation"
)

var (
	version = "0.3.0"
	logger  *logrus.Logger
)

func init() {
	logger = logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		logger.Fatal(err)
	}
}

var rootCmd = &cobra.Command{
	Use:   "globoox-reader",
	Short: "A paginated EPUB reader with on-the-fly translation",
	Long: `Globoox Reader serves EPUB books page by page and translates the blocks a
reader is looking at, prefetching the pages around them. Without a backend URL
it also acts as the book service, reading EPUBs from the library directory.`,
	Run: runServer,
}

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the reader server",
	Run:   runServer,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("Globoox Reader v%s\n", version)
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Run: func(cmd *cobra.Command, args []string) {
		showConfig(cmd)
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration file",
	Run: func(cmd *cobra.Command, args []string) {
		initConfig(cmd)
	},
}

var paginateCmd = &cobra.Command{
	Use:   "paginate <book.epub>",
	Short: "Print the pages of an EPUB chapter",
	Long: `Paginate splits a chapter into pages using estimated block heights, the same
way the reader does before the UI reports measured heights.`,
	Args: cobra.ExactArgs(1),
	RunE: runPaginate,
}

func init() {
	rootCmd.PersistentFlags().IntP("port", "p", 8080, "Port to run the server on")
	rootCmd.PersistentFlags().StringP("openai-key", "k", "", "OpenAI API key")
	rootCmd.PersistentFlags().StringP("library-dir", "l", "", "Directory of EPUB files served by the built-in library")
	rootCmd.PersistentFlags().StringP("data-dir", "d", "", "Directory for the database")
	rootCmd.PersistentFlags().StringP("backend-url", "b", "", "Remote book service URL (default: built-in library)")
	rootCmd.PersistentFlags().StringP("config", "c", "", "Configuration file path (default: config.json beside executable)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose logging")

	paginateCmd.Flags().Int("chapter", 0, "Chapter index")
	paginateCmd.Flags().Float64("page-height", navigation.DefaultConfig().PageHeight, "Page height in pixels")

	rootCmd.AddCommand(serverCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(paginateCmd)

	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)
}

func runServer(cmd *cobra.Command, _ []string) {
	setupLogging(cmd)

	cfg, err := loadConfig(cmd)
	if err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}

	db, err := storage.Open(cfg.DatabasePath())
	if err != nil {
		logger.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	var persister state.Persister = state.NewSQLitePersister(db)
	if cfg.App.StateFile != "" {
		persister = state.NewFilePersister(cfg.App.StateFile)
	}
	st, err := state.NewStore(persister, logger)
	if err != nil {
		logger.Fatalf("Failed to load reader state: %v", err)
	}

	var (
		openai *translation.OpenAITranslator
		lib    *library.Service
		source interface {
			navigation.ContentSource
			navigation.LanguageUpdater
			translation.Translator
			position.Remote
		}
	)

	if cfg.Backend.URL != "" {
		source = remote.NewClient(cfg.Remote(), logger)
	} else {
		var text translation.TextTranslator
		if cfg.OpenAI.APIKey != "" {
			openai = translation.NewOpenAITranslator(cfg.Translator(), logger)
			text = openai
		} else {
			logger.Warn("No OpenAI API key configured; books will be shown untranslated")
		}
		lib = library.NewService(library.Options{
			Dir:       cfg.App.LibraryDir,
			Languages: cfg.Translation.SupportedLangs,
		}, epub.NewParser(logger), db, text, logger)
		if err := lib.Load(); err != nil {
			logger.Fatalf("Failed to load library: %v", err)
		}
		source = lib
	}

	positions := position.NewStore(st, source, cfg.Position.ThrottleInterval.Duration, logger)
	reader := navigation.NewController(source, source, source, positions, st, cfg.Navigation(), logger)

	srv := server.New(cfg, server.Deps{Library: lib, Reader: reader}, logger)
	if openai != nil {
		openai.SetWebSocketBroadcaster(srv.Hub())
	}

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      srv.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout.Duration,
		WriteTimeout: cfg.Server.WriteTimeout.Duration,
	}

	go func() {
		logger.Infof("Starting Globoox Reader on port %d", cfg.Server.Port)
		if lib != nil {
			logger.Infof("Serving %d books from %s", lib.Len(), cfg.App.LibraryDir)
		} else {
			logger.Infof("Using book service at %s", cfg.Backend.URL)
		}
		logger.Infof("Database: %s", cfg.DatabasePath())

		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Errorf("Server forced to shutdown: %v", err)
	}
	srv.Close()
	// Flushes the pending remote position before the database closes.
	reader.Close()
	positions.Close()

	logger.Info("Server exited gracefully")
}

func runPaginate(cmd *cobra.Command, args []string) error {
	setupLogging(cmd)

	index, _ := cmd.Flags().GetInt("chapter")
	pageHeight, _ := cmd.Flags().GetFloat64("page-height")

	book, err := epub.NewParser(logger).Open(args[0])
	if err != nil {
		return err
	}
	if index < 0 || index >= len(book.Chapters) {
		return fmt.Errorf("chapter %d out of range (book has %d)", index, len(book.Chapters))
	}
	ch := book.Chapters[index]
	pages := paginator.ComputePages(ch.Blocks, nil, pageHeight)

	fmt.Printf("%s: %s\n", book.Metadata.Title, ch.Title)
	fmt.Printf("%d blocks, %d pages at %.0fpx\n\n", len(ch.Blocks), len(pages), pageHeight)
	for i, page := range pages {
		fmt.Printf("Page %d: %s\n", i+1, strings.Join(page, " "))
	}
	return nil
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	configPath, _ := cmd.Flags().GetString("config")
	if configPath == "" {
		configPath = config.GetConfigPath()
	}

	logger.Debugf("Loading configuration from: %s", configPath)

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	if port, _ := cmd.Flags().GetInt("port"); cmd.Flags().Changed("port") {
		cfg.Server.Port = port
		logger.Debugf("Port overridden by flag: %d", port)
	}
	if apiKey, _ := cmd.Flags().GetString("openai-key"); apiKey != "" {
		cfg.OpenAI.APIKey = apiKey
		logger.Debug("OpenAI API key overridden by flag")
	}
	if dir, _ := cmd.Flags().GetString("library-dir"); dir != "" {
		cfg.App.LibraryDir = dir
		logger.Debugf("Library directory overridden by flag: %s", dir)
	}
	if dir, _ := cmd.Flags().GetString("data-dir"); dir != "" {
		cfg.App.DataDir = dir
		logger.Debugf("Data directory overridden by flag: %s", dir)
	}
	if url, _ := cmd.Flags().GetString("backend-url"); url != "" {
		cfg.Backend.URL = url
		logger.Debugf("Backend URL overridden by flag: %s", url)
	}

	return cfg, cfg.Validate()
}

func setupLogging(cmd *cobra.Command) {
	verbose, _ := cmd.Flags().GetBool("verbose")
	if verbose {
		logger.SetLevel(logrus.DebugLevel)
	} else {
		logger.SetLevel(logrus.InfoLevel)
	}
}

func showConfig(cmd *cobra.Command) {
	configPath, _ := cmd.Flags().GetString("config")
	if configPath == "" {
		configPath = config.GetConfigPath()
	}

	fmt.Printf("Globoox Reader Configuration\n")
	fmt.Printf("Configuration file: %s\n\n", configPath)

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		fmt.Printf("Configuration file does not exist\n")
		fmt.Printf("Run 'globoox-reader config init' to create one\n")
		return
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		return
	}

	fmt.Printf("Server Settings:\n")
	fmt.Printf("  Port: %d\n", cfg.Server.Port)
	fmt.Printf("  Read Timeout: %s\n", cfg.Server.ReadTimeout)
	fmt.Printf("  Write Timeout: %s\n", cfg.Server.WriteTimeout)
	fmt.Printf("\n")

	fmt.Printf("Backend:\n")
	if cfg.Backend.URL != "" {
		fmt.Printf("  URL: %s\n", cfg.Backend.URL)
		fmt.Printf("  Signed in: %t\n", cfg.Backend.Token != "")
	} else {
		fmt.Printf("  Built-in library: %s\n", cfg.App.LibraryDir)
	}
	fmt.Printf("\n")

	fmt.Printf("OpenAI Settings:\n")
	fmt.Printf("  API Key: %s\n", maskKey(cfg.OpenAI.APIKey))
	fmt.Printf("  Model: %s\n", cfg.OpenAI.Model)
	fmt.Printf("  Max Tokens: %d\n", cfg.OpenAI.MaxTokens)
	fmt.Printf("  Temperature: %.1f\n", cfg.OpenAI.Temperature)
	fmt.Printf("\n")

	fmt.Printf("Translation Settings:\n")
	fmt.Printf("  Batch Size: %d\n", cfg.Translation.BatchSize)
	fmt.Printf("  Debounce: %s visible, %s prefetch\n", cfg.Translation.HighDebounce, cfg.Translation.LowDebounce)
	fmt.Printf("  Prefetch Pages: %d\n", cfg.Translation.PrefetchPages)
	fmt.Printf("  Supported Languages: %d languages\n", len(cfg.Translation.SupportedLangs))
	fmt.Printf("\n")

	fmt.Printf("Reader Settings:\n")
	fmt.Printf("  Page Height: %.0f\n", cfg.Reader.PageHeight)
	fmt.Printf("  Font Size: %d\n", cfg.Reader.FontSize)
	fmt.Printf("  Position Sync: every %s\n", cfg.Position.ThrottleInterval)
	fmt.Printf("  Database: %s\n", cfg.DatabasePath())
}

func maskKey(key string) string {
	if key == "" {
		return "not set"
	}
	if len(key) <= 10 {
		return "***"
	}
	return key[:6] + "..." + key[len(key)-4:]
}

func initConfig(cmd *cobra.Command) {
	configPath, _ := cmd.Flags().GetString("config")
	if configPath == "" {
		configPath = config.GetConfigPath()
	}

	fmt.Printf("Configuration file: %s\n", configPath)

	if _, err := os.Stat(configPath); err == nil {
		fmt.Printf("Configuration file already exists\n")
		return
	}

	if _, err := config.Load(configPath); err != nil {
		fmt.Printf("Failed to initialize configuration: %v\n", err)
		return
	}

	fmt.Printf("Configuration initialized\n")
	fmt.Printf("Use 'globoox-reader config show' to view it\n")
}
