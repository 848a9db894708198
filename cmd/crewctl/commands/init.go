package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the board database and home directory",
	Long: `Creates ~/.crewctl (or $CREW_HOME) and the board database inside it.
Running init on an existing board is safe; the schema is only added, never
rewritten.`,
	Args: cobra.NoArgs,
	RunE: runInit,
}

func init() {
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(cfg.HomeDir, 0o755); err != nil {
		return fmt.Errorf("create home directory: %w", err)
	}

	store, _, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	fmt.Printf("Initialized board at %s\n", cfg.DBPath)
	return nil
}
