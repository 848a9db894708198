package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/basket/crewctl/internal/persistence"
)

var (
	listAll    bool
	listStatus string
	listMine   bool

	feedLimit int
	feedAgent string
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks, active first",
	Long: `Lists tasks ordered by how alive they are: in_progress, then claimed, then
review, blocked and pending, with priority breaking ties. Finished tasks are
hidden unless --all or --status asks for them.`,
	Args: cobra.NoArgs,
	RunE: runList,
}

var boardCmd = &cobra.Command{
	Use:   "board",
	Short: "Show the board grouped by status",
	Args:  cobra.NoArgs,
	RunE:  runBoard,
}

var nextCmd = &cobra.Command{
	Use:   "next",
	Short: "Show your next task",
	Long: `Picks what to work on: a task you already have in progress, otherwise the
highest-priority unowned pending task.`,
	Args: cobra.NoArgs,
	RunE: runNext,
}

var feedCmd = &cobra.Command{
	Use:   "feed",
	Short: "Show the activity ledger, newest first",
	Args:  cobra.NoArgs,
	RunE:  runFeed,
}

var summaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "One-screen board overview",
	Args:  cobra.NoArgs,
	RunE:  runSummary,
}

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search task subjects and message bodies",
	Args:  cobra.ExactArgs(1),
	RunE:  runSearch,
}

var showCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one task with its messages and blockers",
	Args:  cobra.ExactArgs(1),
	RunE:  runShow,
}

func init() {
	listCmd.Flags().BoolVar(&listAll, "all", false, "Include done and cancelled tasks")
	listCmd.Flags().StringVar(&listStatus, "status", "", "Only tasks with this status")
	listCmd.Flags().BoolVar(&listMine, "mine", false, "Only tasks you own")
	feedCmd.Flags().IntVar(&feedLimit, "limit", 20, "Number of entries")
	feedCmd.Flags().StringVar(&feedAgent, "agent", "", "Only entries by this agent")

	rootCmd.AddCommand(listCmd, boardCmd, nextCmd, feedCmd, summaryCmd, searchCmd, showCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	store, cfg, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	filter := persistence.ListFilter{
		Status: persistence.TaskStatus(listStatus),
		All:    listAll,
	}
	if listMine {
		filter.Owner = localAgent(cfg)
	}
	tasks, err := store.ListTasks(context.Background(), filter)
	if err != nil {
		return err
	}
	if len(tasks) == 0 {
		fmt.Println("No tasks")
		return nil
	}
	for _, t := range tasks {
		printTaskLine(t)
	}
	return nil
}

func runBoard(cmd *cobra.Command, args []string) error {
	store, _, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	board, err := store.Board(context.Background())
	if err != nil {
		return err
	}
	if len(board) == 0 {
		fmt.Println("Board is empty")
		return nil
	}
	for _, status := range persistence.StatusOrder() {
		group, present := board[status]
		if !present {
			continue
		}
		headerColor.Printf("%s (%d)\n", status, group.Count)
		for _, t := range group.Tasks {
			printTaskLine(t)
		}
		fmt.Println()
	}
	return nil
}

func runNext(cmd *cobra.Command, args []string) error {
	store, cfg, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	task, err := store.NextTask(context.Background(), localAgent(cfg))
	if err != nil {
		return err
	}
	if task == nil {
		fmt.Println("No actionable tasks")
		return nil
	}
	printTaskLine(*task)
	return nil
}

func runFeed(cmd *cobra.Command, args []string) error {
	store, _, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	feed, err := store.Feed(context.Background(), feedLimit, feedAgent)
	if err != nil {
		return err
	}
	if len(feed) == 0 {
		fmt.Println("No activity")
		return nil
	}
	for _, e := range feed {
		ref := ""
		if e.EntityType == "task" && e.EntityID != 0 {
			ref = fmt.Sprintf(" #%d", e.EntityID)
		}
		fmt.Printf("%s  %-16s %s%s  %s\n",
			e.CreatedAt.Format("2006-01-02 15:04"), e.Action, e.Agent, ref, e.Detail)
	}
	return nil
}

func runSummary(cmd *cobra.Command, args []string) error {
	store, _, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	summary, err := store.Summarize(context.Background())
	if err != nil {
		return err
	}

	headerColor.Println("SUMMARY")
	for _, status := range persistence.StatusOrder() {
		if n := summary.StatusCounts[status]; n > 0 {
			fmt.Printf("  %-12s %d\n", status, n)
		}
	}
	fmt.Printf("  %-12s %d\n", "open", summary.Open)
	if len(summary.Agents) > 0 {
		headerColor.Println("CREW")
		for _, a := range summary.Agents {
			line := fmt.Sprintf("  %-12s %s", a.Name, a.Status)
			if a.WorkingOn != "" {
				line += ": " + a.WorkingOn
			}
			fmt.Println(line)
		}
	}
	return nil
}

func runSearch(cmd *cobra.Command, args []string) error {
	store, _, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	results, err := store.Search(context.Background(), args[0])
	if err != nil {
		return err
	}
	if len(results.Tasks) == 0 && len(results.Messages) == 0 {
		fmt.Println("No matches")
		return nil
	}
	if len(results.Tasks) > 0 {
		headerColor.Println("TASKS")
		for _, t := range results.Tasks {
			printTaskLine(t)
		}
	}
	if len(results.Messages) > 0 {
		headerColor.Println("MESSAGES")
		for _, m := range results.Messages {
			printMessage(m)
		}
	}
	return nil
}

func runShow(cmd *cobra.Command, args []string) error {
	id, err := parseTaskID(args[0])
	if err != nil {
		return err
	}
	store, _, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := context.Background()
	task, err := store.GetTask(ctx, id)
	if err != nil {
		return err
	}
	if task == nil {
		return fmt.Errorf("task #%d not found", id)
	}

	printTaskLine(*task)
	fmt.Printf("  created by %s at %s\n", task.CreatedBy, task.CreatedAt.Format("2006-01-02 15:04"))
	if task.ParentID != nil {
		fmt.Printf("  subtask of #%d\n", *task.ParentID)
	}
	if task.CompletedAt != nil {
		fmt.Printf("  completed at %s\n", task.CompletedAt.Format("2006-01-02 15:04"))
	}

	blockers, err := store.Blockers(ctx, id)
	if err != nil {
		return err
	}
	if len(blockers) > 0 {
		headerColor.Println("WAITS ON")
		for _, b := range blockers {
			printTaskLine(b)
		}
	}

	msgs, err := store.TaskMessages(ctx, id)
	if err != nil {
		return err
	}
	if len(msgs) > 0 {
		headerColor.Println("MESSAGES")
		for _, m := range msgs {
			printMessage(m)
		}
	}
	return nil
}
