package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	croninternal "github.com/basket/crewctl/internal/cron"
)

var (
	scheduleName     string
	scheduleCron     string
	scheduleSubject  string
	schedulePriority int
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Manage recurring tasks",
	Long: `Recurring tasks are created from schedules by a running 'crewctl serve'
process. Each schedule holds a 5-field cron expression and a task template;
when the expression fires, a fresh pending task lands on the board.`,
}

var scheduleAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a recurring task",
	Args:  cobra.NoArgs,
	RunE:  runScheduleAdd,
}

var scheduleListCmd = &cobra.Command{
	Use:   "list",
	Short: "List schedules",
	Args:  cobra.NoArgs,
	RunE:  runScheduleList,
}

var scheduleRmCmd = &cobra.Command{
	Use:   "rm <id>",
	Short: "Remove a schedule",
	Args:  cobra.ExactArgs(1),
	RunE:  runScheduleRm,
}

func init() {
	scheduleAddCmd.Flags().StringVar(&scheduleName, "name", "", "Schedule name")
	scheduleAddCmd.Flags().StringVar(&scheduleCron, "cron", "", "5-field cron expression, e.g. '0 9 * * 1-5'")
	scheduleAddCmd.Flags().StringVar(&scheduleSubject, "subject", "", "Subject of the tasks this schedule creates")
	scheduleAddCmd.Flags().IntVar(&schedulePriority, "priority", 0, "Priority of the created tasks")
	_ = scheduleAddCmd.MarkFlagRequired("name")
	_ = scheduleAddCmd.MarkFlagRequired("cron")
	_ = scheduleAddCmd.MarkFlagRequired("subject")

	scheduleCmd.AddCommand(scheduleAddCmd, scheduleListCmd, scheduleRmCmd)
	rootCmd.AddCommand(scheduleCmd)
}

func runScheduleAdd(cmd *cobra.Command, args []string) error {
	nextRun, err := croninternal.NextRunTime(scheduleCron, time.Now())
	if err != nil {
		return fmt.Errorf("bad cron expression %q: %w", scheduleCron, err)
	}

	store, cfg, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	id, err := store.CreateSchedule(context.Background(), scheduleName, scheduleCron,
		scheduleSubject, schedulePriority, localAgent(cfg), nextRun)
	if err != nil {
		return err
	}
	fmt.Printf("Created schedule #%d: %s, next run %s\n",
		id, scheduleName, nextRun.Format("2006-01-02 15:04"))
	return nil
}

func runScheduleList(cmd *cobra.Command, args []string) error {
	store, _, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	schedules, err := store.ListSchedules(context.Background())
	if err != nil {
		return err
	}
	if len(schedules) == 0 {
		fmt.Println("No schedules")
		return nil
	}
	for _, sc := range schedules {
		next := "-"
		if sc.NextRunAt != nil {
			next = sc.NextRunAt.Format("2006-01-02 15:04")
		}
		state := "enabled"
		if !sc.Enabled {
			state = "disabled"
		}
		fmt.Printf("#%-4d %-20s %-16s next %-17s %-8s %s\n",
			sc.ID, sc.Name, sc.CronExpr, next, state, sc.Subject)
	}
	return nil
}

func runScheduleRm(cmd *cobra.Command, args []string) error {
	id, err := parseTaskID(args[0])
	if err != nil {
		return err
	}
	store, cfg, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	res, err := store.DeleteSchedule(context.Background(), id, localAgent(cfg))
	if err != nil {
		return err
	}
	return finish(res, fmt.Sprintf("Removed schedule #%d", id))
}
