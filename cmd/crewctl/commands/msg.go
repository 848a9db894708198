package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/basket/crewctl/internal/persistence"
)

var (
	msgType   string
	msgTaskID int64

	inboxUnread bool
)

var msgCmd = &cobra.Command{
	Use:   "msg <to> <body>",
	Short: "Send a direct message to another agent",
	Args:  cobra.ExactArgs(2),
	RunE:  runMsg,
}

var broadcastCmd = &cobra.Command{
	Use:   "broadcast <body>",
	Short: "Send an alert every agent will see",
	Args:  cobra.ExactArgs(1),
	RunE:  runBroadcast,
}

var inboxCmd = &cobra.Command{
	Use:   "inbox",
	Short: "Show your messages, newest first",
	Long: `Shows direct messages addressed to you plus all broadcasts. --unread hides
directs you have already marked read; broadcasts always show, they carry no
read state.`,
	Args: cobra.NoArgs,
	RunE: runInbox,
}

var readCmd = &cobra.Command{
	Use:   "read [id...]",
	Short: "Mark your direct messages as read",
	Long: `Marks your unread direct messages as read. Without arguments every unread
direct is marked; with message ids, exactly those.`,
	Args: cobra.ArbitraryArgs,
	RunE: runRead,
}

func init() {
	msgCmd.Flags().StringVar(&msgType, "type", "comment", "Message type: comment, status or alert")
	msgCmd.Flags().Int64Var(&msgTaskID, "task", 0, "Attach the message to a task")
	inboxCmd.Flags().BoolVar(&inboxUnread, "unread", false, "Only unread direct messages")

	rootCmd.AddCommand(msgCmd, broadcastCmd, inboxCmd, readCmd)
}

func runMsg(cmd *cobra.Command, args []string) error {
	store, cfg, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	res, err := store.Send(context.Background(), localAgent(cfg), args[0], args[1], msgType, msgTaskID)
	if err != nil {
		return err
	}
	return finish(res, fmt.Sprintf("Sent to %s", args[0]))
}

func runBroadcast(cmd *cobra.Command, args []string) error {
	store, cfg, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	res, err := store.Broadcast(context.Background(), localAgent(cfg), args[0])
	if err != nil {
		return err
	}
	return finish(res, "Broadcast sent")
}

func runInbox(cmd *cobra.Command, args []string) error {
	store, cfg, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	agent := localAgent(cfg)
	msgs, err := store.Inbox(context.Background(), agent, inboxUnread)
	if err != nil {
		return err
	}
	if len(msgs) == 0 {
		fmt.Println("Inbox empty")
		return nil
	}
	for _, m := range msgs {
		printMessage(m)
	}

	unread, err := store.UnreadCount(context.Background(), agent)
	if err != nil {
		return err
	}
	fmt.Printf("%d unread\n", unread)
	return nil
}

func runRead(cmd *cobra.Command, args []string) error {
	ids := make([]int64, 0, len(args))
	for _, raw := range args {
		id, err := parseTaskID(raw)
		if err != nil {
			return fmt.Errorf("bad message id %q", raw)
		}
		ids = append(ids, id)
	}

	store, cfg, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	marked, err := store.MarkRead(context.Background(), localAgent(cfg), ids...)
	if err != nil {
		return err
	}
	fmt.Printf("Marked %d messages read\n", marked)
	return nil
}

func printMessage(m persistence.Message) {
	tag := m.Type
	if m.ToAgent == "" {
		tag = "broadcast"
	}
	ref := ""
	if m.TaskID != nil {
		ref = fmt.Sprintf(" (task #%d)", *m.TaskID)
	}
	marker := " "
	if m.ToAgent != "" && m.ReadAt == nil {
		marker = "*"
	}
	fmt.Printf("%s [%s] %s%s: %s\n", marker, tag, m.FromAgent, ref, m.Body)
}
