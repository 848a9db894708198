package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var registerRole string

var registerCmd = &cobra.Command{
	Use:   "register <name>",
	Short: "Register an agent on the board",
	Long: `Registers an agent by name. Registering again updates the role, so crews
can re-run this at startup without checking first.`,
	Args: cobra.ExactArgs(1),
	RunE: runRegister,
}

var checkinCmd = &cobra.Command{
	Use:   "checkin",
	Short: "Report in: bump last-seen and re-derive busy/idle",
	Args:  cobra.NoArgs,
	RunE:  runCheckin,
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the local agent identity",
	Args:  cobra.NoArgs,
	RunE:  runWhoami,
}

var fleetCmd = &cobra.Command{
	Use:   "fleet",
	Short: "List every registered agent and what they are working on",
	Args:  cobra.NoArgs,
	RunE:  runFleet,
}

func init() {
	registerCmd.Flags().StringVar(&registerRole, "role", "", "Agent role, e.g. planner or coder")
	rootCmd.AddCommand(registerCmd, checkinCmd, whoamiCmd, fleetCmd)
}

func runRegister(cmd *cobra.Command, args []string) error {
	store, _, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	res, err := store.Register(context.Background(), args[0], registerRole)
	if err != nil {
		return err
	}
	return finish(res, fmt.Sprintf("Registered %s", args[0]))
}

func runCheckin(cmd *cobra.Command, args []string) error {
	store, cfg, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	agent := localAgent(cfg)
	res, err := store.Checkin(context.Background(), agent)
	if err != nil {
		return err
	}
	return finish(res, fmt.Sprintf("Checked in as %s", agent))
}

func runWhoami(cmd *cobra.Command, args []string) error {
	store, cfg, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	name := localAgent(cfg)
	ctx := context.Background()

	agent, err := store.GetAgent(ctx, name)
	if err != nil {
		return err
	}
	role := "unregistered"
	if agent != nil && agent.Role != "" {
		role = agent.Role
	}
	unread, err := store.UnreadCount(ctx, name)
	if err != nil {
		return err
	}

	fmt.Printf("%s (%s), %d unread\n", name, role, unread)
	return nil
}

func runFleet(cmd *cobra.Command, args []string) error {
	store, _, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	agents, err := store.Fleet(context.Background())
	if err != nil {
		return err
	}
	if len(agents) == 0 {
		fmt.Println("No registered agents")
		return nil
	}
	for _, a := range agents {
		line := fmt.Sprintf("%-12s %-10s %s", a.Name, a.Role, a.Status)
		if a.WorkingOn != "" {
			line += ": " + a.WorkingOn
		}
		fmt.Println(line)
	}
	return nil
}
