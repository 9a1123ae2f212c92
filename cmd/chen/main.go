package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"chen/internal/agent"
	"chen/internal/index"
	"chen/internal/session"
	"chen/internal/settings"
	"chen/internal/ui"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	// Global flags
	verbose bool
	chenDir string

	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "chen",
	Short: "chen - a conversational agent with durable local sessions",
	Long: `chen is a terminal chat agent. Conversations are stored as append-only
logs under ~/.chen/sessions and survive crashes and restarts; settings and
API keys live in ~/.chen/settings.json.

Run without arguments to start a new conversation. First run walks through
onboarding to collect API keys.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initLogger()
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runNewChat()
	},
}

func initLogger() error {
	dir, err := stateDir()
	if err != nil {
		return err
	}
	logDir := filepath.Join(dir, "logs")
	if err := os.MkdirAll(logDir, 0o700); err != nil {
		return fmt.Errorf("create log directory: %w", err)
	}

	// The TUI owns the terminal, so logs go to a file instead of stderr.
	config := zap.NewProductionConfig()
	config.OutputPaths = []string{filepath.Join(logDir, "chen.log")}
	config.ErrorOutputPaths = config.OutputPaths
	if verbose {
		config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	logger, err = config.Build()
	if err != nil {
		return fmt.Errorf("initialize logger: %w", err)
	}
	return nil
}

// stateDir resolves the state directory, honoring --dir for tests and
// alternate profiles.
func stateDir() (string, error) {
	if chenDir != "" {
		return chenDir, nil
	}
	return settings.DefaultDir()
}

func sessionsRoot() (string, error) {
	dir, err := stateDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "sessions"), nil
}

func openIndexer(reindex bool) (*index.Indexer, error) {
	dir, err := stateDir()
	if err != nil {
		return nil, err
	}
	root, err := sessionsRoot()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create state directory: %w", err)
	}
	return index.New(root, filepath.Join(dir, "index.sqlite"), reindex)
}

// ensureSettings loads the settings document, running onboarding first
// when the document is missing a model credential.
func ensureSettings() (settings.Document, error) {
	dir, err := stateDir()
	if err != nil {
		return settings.Document{}, err
	}
	store := settings.NewStore(dir)

	doc, complete := store.Load()
	if complete {
		return doc, nil
	}

	if !isatty.IsTerminal(os.Stdin.Fd()) && !isatty.IsCygwinTerminal(os.Stdin.Fd()) {
		return settings.Document{}, errors.New("no API key configured; run `chen onboard` in a terminal or set ANTHROPIC_API_KEY, OPENAI_API_KEY, or OPENROUTER_API_KEY via `chen config set`")
	}

	flow := settings.NewFlow(store, os.Getenv)
	saved, err := ui.RunOnboarding(flow)
	if err != nil {
		return settings.Document{}, err
	}
	if !saved {
		return settings.Document{}, errors.New("onboarding cancelled")
	}
	logger.Info("onboarding complete")
	doc, _ = store.Load()
	return doc, nil
}

func runNewChat() error {
	doc, err := ensureSettings()
	if err != nil {
		return err
	}
	ag, err := agent.FromSettings(doc)
	if err != nil {
		return err
	}

	root, err := sessionsRoot()
	if err != nil {
		return err
	}
	store := session.NewStore(root)
	sess, err := store.Create()
	if err != nil {
		return err
	}
	logger.Info("session created", zap.String("id", sess.ID()))

	return ui.RunChat(sess, ag, nil)
}

func runResumedChat(id string) error {
	doc, err := ensureSettings()
	if err != nil {
		return err
	}
	ag, err := agent.FromSettings(doc)
	if err != nil {
		return err
	}

	root, err := sessionsRoot()
	if err != nil {
		return err
	}
	store := session.NewStore(root)
	catalog := session.NewCatalog(store)

	sess, events, err := catalog.Resume(id)
	if err != nil && !errors.Is(err, session.ErrCorruptSession) {
		return err
	}
	if errors.Is(err, session.ErrCorruptSession) {
		logger.Warn("resuming with truncated history", zap.String("id", id), zap.Error(err))
		fmt.Fprintln(os.Stderr, "warning: session log has a corrupt tail; resuming with the readable prefix")
	}
	logger.Info("session resumed", zap.String("id", sess.ID()), zap.Int("events", len(events)))

	return ui.RunChat(sess, ag, events)
}

func main() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&chenDir, "dir", "", "state directory (default ~/.chen)")

	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(onboardCmd)
	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(resumeCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
