// Package commands implements the crewctl CLI. Every command opens the shared
// board database directly; the dashboard server is just another process on
// the same file.
package commands

import (
	"fmt"
	"os"
	"strconv"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/basket/crewctl/internal/audit"
	"github.com/basket/crewctl/internal/config"
	"github.com/basket/crewctl/internal/persistence"
)

var (
	version string
	commit  string
)

var (
	flagDB    string
	flagAgent string
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "crewctl",
	Short: "crewctl - shared task board for agent crews",
	Long: `crewctl coordinates a crew of autonomous agents working one task board.

Tasks move through a claim/start/done lifecycle with race-safe ownership,
agents message each other through a built-in mailbox, and every mutation
lands in an activity ledger. Run 'crewctl serve' for the live dashboard.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags
// appropriately. This is called by main.main().
func Execute() error {
	return rootCmd.Execute()
}

// SetVersionInfo sets the version string shown by --version.
func SetVersionInfo(v, c string) {
	version = v
	commit = c
	rootCmd.Version = fmt.Sprintf("%s (commit: %s)", v, c)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagDB, "db", "", "Path to the board database (default ~/.crewctl/crew.db)")
	rootCmd.PersistentFlags().StringVar(&flagAgent, "agent", "", "Agent identity for this invocation (default $CREW_AGENT or hostname)")

	if !isatty.IsTerminal(os.Stdout.Fd()) && !isatty.IsCygwinTerminal(os.Stdout.Fd()) {
		color.NoColor = true
	}
}

// loadConfig resolves configuration with CLI flag overrides on top.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if flagDB != "" {
		cfg.DBPath = flagDB
	}
	return cfg, nil
}

// openStore opens the board database and the audit mirror. Callers own the
// returned store and must Close it.
func openStore() (*persistence.Store, *config.Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	if err := audit.Init(cfg.HomeDir); err != nil {
		// The board works without the mirror; say so and carry on.
		fmt.Fprintf(os.Stderr, "warning: audit log unavailable: %v\n", err)
	}
	store, err := persistence.Open(cfg.DBPath, nil, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("open board at %s: %w", cfg.DBPath, err)
	}
	return store, cfg, nil
}

// localAgent resolves who is acting: --agent flag, then config, then hostname.
func localAgent(cfg *config.Config) string {
	return cfg.ResolveAgent(flagAgent)
}

func parseTaskID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("bad task id %q", raw)
	}
	return id, nil
}

// finish turns an engine result into command output: successes print their
// message (idempotent repeats print the informational note instead), failures
// become errors for main to report.
func finish(res persistence.Result, successMsg string) error {
	switch res.Code {
	case persistence.CodeOK:
		fmt.Println(successMsg)
		return nil
	case persistence.CodeAlreadyDone:
		fmt.Println(res.Info)
		return nil
	default:
		return fmt.Errorf("%s", res.Info)
	}
}

var (
	statusColors = map[persistence.TaskStatus]*color.Color{
		persistence.StatusPending:    color.New(color.FgWhite),
		persistence.StatusClaimed:    color.New(color.FgCyan),
		persistence.StatusInProgress: color.New(color.FgYellow),
		persistence.StatusReview:     color.New(color.FgMagenta),
		persistence.StatusBlocked:    color.New(color.FgRed),
		persistence.StatusDone:       color.New(color.FgGreen),
		persistence.StatusCancelled:  color.New(color.FgHiBlack),
	}
	headerColor = color.New(color.Bold)
)

func statusLabel(s persistence.TaskStatus) string {
	if c, ok := statusColors[s]; ok {
		return c.Sprint(string(s))
	}
	return string(s)
}

func printTaskLine(t persistence.Task) {
	owner := "-"
	if t.Owner != "" {
		owner = "@" + t.Owner
	}
	fmt.Printf("#%-4d %-12s p%-3d %-12s %s\n", t.ID, statusLabel(t.Status), t.Priority, owner, t.Subject)
}
