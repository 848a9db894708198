package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var blockCmd = &cobra.Command{
	Use:   "block <id> <blocker-id>",
	Short: "Record that a task waits on another",
	Long: `Marks the first task as blocked by the second. The blocked task moves to
'blocked' no matter what state it was in; the same edge can only be added
once.`,
	Args: cobra.ExactArgs(2),
	RunE: runBlock,
}

var blockersCmd = &cobra.Command{
	Use:   "blockers <id>",
	Short: "List the tasks a task waits on",
	Args:  cobra.ExactArgs(1),
	RunE:  runBlockers,
}

func init() {
	rootCmd.AddCommand(blockCmd, blockersCmd)
}

func runBlock(cmd *cobra.Command, args []string) error {
	id, err := parseTaskID(args[0])
	if err != nil {
		return err
	}
	blocker, err := parseTaskID(args[1])
	if err != nil {
		return err
	}
	store, cfg, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	res, err := store.Block(context.Background(), id, blocker, localAgent(cfg))
	if err != nil {
		return err
	}
	return finish(res, fmt.Sprintf("Blocked #%d on #%d", id, blocker))
}

func runBlockers(cmd *cobra.Command, args []string) error {
	id, err := parseTaskID(args[0])
	if err != nil {
		return err
	}
	store, _, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	blockers, err := store.Blockers(context.Background(), id)
	if err != nil {
		return err
	}
	if len(blockers) == 0 {
		fmt.Printf("#%d has no blockers\n", id)
		return nil
	}
	fmt.Printf("#%d waits on:\n", id)
	for _, b := range blockers {
		printTaskLine(b)
	}
	return nil
}
