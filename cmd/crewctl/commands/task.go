package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/basket/crewctl/internal/persistence"
)

var (
	addPriority int
	addFor      string
	addParent   int64

	claimForce bool

	doneNote  string
	doneForce bool

	approveNote  string
	rejectReason string

	resetForce bool
)

var addCmd = &cobra.Command{
	Use:   "add <subject>",
	Short: "Create a task",
	Args:  cobra.ExactArgs(1),
	RunE:  runAdd,
}

var claimCmd = &cobra.Command{
	Use:   "claim <id>",
	Short: "Take ownership of a task",
	Long: `Claims a task for the local agent. Claiming is race-safe: when two agents
go for the same task, exactly one wins and the other is told who got it.
--force steals the task from its current owner.`,
	Args: cobra.ExactArgs(1),
	RunE: runClaim,
}

var startCmd = &cobra.Command{
	Use:   "start <id>",
	Short: "Start working on a claimed task",
	Args:  cobra.ExactArgs(1),
	RunE:  runStart,
}

var doneCmd = &cobra.Command{
	Use:   "done <id>",
	Short: "Mark a task done",
	Long: `Completes a task you own. Completing a task that is already done is not an
error. --note attaches a status message to the task; --force completes a task
owned by someone else.`,
	Args: cobra.ExactArgs(1),
	RunE: runDone,
}

var reviewCmd = &cobra.Command{
	Use:   "review <id>",
	Short: "Submit a task you own for review",
	Args:  cobra.ExactArgs(1),
	RunE:  runReview,
}

var approveCmd = &cobra.Command{
	Use:   "approve <id>",
	Short: "Approve a task in review, completing it",
	Args:  cobra.ExactArgs(1),
	RunE:  runApprove,
}

var rejectCmd = &cobra.Command{
	Use:   "reject <id>",
	Short: "Send a task in review back to pending",
	Args:  cobra.ExactArgs(1),
	RunE:  runReject,
}

var cancelCmd = &cobra.Command{
	Use:   "cancel <id>",
	Short: "Cancel a task",
	Args:  cobra.ExactArgs(1),
	RunE:  runCancel,
}

var resetCmd = &cobra.Command{
	Use:   "reset <id>",
	Short: "Return a finished task to pending, clearing ownership",
	Args:  cobra.ExactArgs(1),
	RunE:  runReset,
}

func init() {
	addCmd.Flags().IntVar(&addPriority, "priority", 0, "Task priority; higher is picked first")
	addCmd.Flags().StringVar(&addFor, "for", "", "Assign the task to an agent at creation")
	addCmd.Flags().Int64Var(&addParent, "parent", 0, "Parent task id for subtasks")
	claimCmd.Flags().BoolVar(&claimForce, "force", false, "Steal the task from its current owner")
	doneCmd.Flags().StringVar(&doneNote, "note", "", "Status note recorded on the task")
	doneCmd.Flags().BoolVar(&doneForce, "force", false, "Complete a task owned by someone else")
	approveCmd.Flags().StringVar(&approveNote, "note", "", "Status note recorded on the task")
	rejectCmd.Flags().StringVar(&rejectReason, "reason", "", "Why the task was rejected")
	resetCmd.Flags().BoolVar(&resetForce, "force", false, "Reset a task that is not finished")

	rootCmd.AddCommand(addCmd, claimCmd, startCmd, doneCmd, reviewCmd,
		approveCmd, rejectCmd, cancelCmd, resetCmd)
}

func runAdd(cmd *cobra.Command, args []string) error {
	store, cfg, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	res, err := store.CreateTask(context.Background(), args[0], persistence.CreateTaskOptions{
		Priority:  addPriority,
		CreatedBy: localAgent(cfg),
		Assignee:  addFor,
		ParentID:  addParent,
	})
	if err != nil {
		return err
	}
	return finish(res, fmt.Sprintf("Created task #%d: %s", res.TaskID, args[0]))
}

func runClaim(cmd *cobra.Command, args []string) error {
	id, err := parseTaskID(args[0])
	if err != nil {
		return err
	}
	store, cfg, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	res, err := store.Claim(context.Background(), id, localAgent(cfg), claimForce)
	if err != nil {
		return err
	}
	return finish(res, fmt.Sprintf("Claimed #%d", id))
}

func runStart(cmd *cobra.Command, args []string) error {
	id, err := parseTaskID(args[0])
	if err != nil {
		return err
	}
	store, cfg, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	res, err := store.Start(context.Background(), id, localAgent(cfg))
	if err != nil {
		return err
	}
	return finish(res, fmt.Sprintf("Working on #%d", id))
}

func runDone(cmd *cobra.Command, args []string) error {
	id, err := parseTaskID(args[0])
	if err != nil {
		return err
	}
	store, cfg, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	res, err := store.Complete(context.Background(), id, localAgent(cfg), doneNote, doneForce)
	if err != nil {
		return err
	}
	return finish(res, fmt.Sprintf("Done #%d", id))
}

func runReview(cmd *cobra.Command, args []string) error {
	id, err := parseTaskID(args[0])
	if err != nil {
		return err
	}
	store, cfg, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	res, err := store.Review(context.Background(), id, localAgent(cfg))
	if err != nil {
		return err
	}
	return finish(res, fmt.Sprintf("Submitted #%d for review", id))
}

func runApprove(cmd *cobra.Command, args []string) error {
	id, err := parseTaskID(args[0])
	if err != nil {
		return err
	}
	store, cfg, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	res, err := store.Approve(context.Background(), id, localAgent(cfg), approveNote)
	if err != nil {
		return err
	}
	return finish(res, fmt.Sprintf("Approved #%d", id))
}

func runReject(cmd *cobra.Command, args []string) error {
	id, err := parseTaskID(args[0])
	if err != nil {
		return err
	}
	store, cfg, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	res, err := store.Reject(context.Background(), id, localAgent(cfg), rejectReason)
	if err != nil {
		return err
	}
	return finish(res, fmt.Sprintf("Rejected #%d", id))
}

func runCancel(cmd *cobra.Command, args []string) error {
	id, err := parseTaskID(args[0])
	if err != nil {
		return err
	}
	store, cfg, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	res, err := store.Cancel(context.Background(), id, localAgent(cfg))
	if err != nil {
		return err
	}
	return finish(res, fmt.Sprintf("Cancelled #%d", id))
}

func runReset(cmd *cobra.Command, args []string) error {
	id, err := parseTaskID(args[0])
	if err != nil {
		return err
	}
	store, cfg, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	res, err := store.Reset(context.Background(), id, localAgent(cfg), resetForce)
	if err != nil {
		return err
	}
	return finish(res, fmt.Sprintf("Reset #%d", id))
}
