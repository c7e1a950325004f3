package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/choptalini/chatbot/internal/config"
	"github.com/choptalini/chatbot/internal/store/deadletter"
)

func routesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "routes",
		Short: "List configured tenant routes",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRoutes()
		},
	}
	cmd.AddCommand(deadLettersCmd())
	return cmd
}

func runRoutes() error {
	tm, err := config.LoadTenantMap(resolveConfigPath())
	if err != nil {
		return fmt.Errorf("routes: %w", err)
	}
	defer tm.Close()

	bindings := tm.All()
	if len(bindings) == 0 {
		fmt.Println("no tenant bindings configured")
		return nil
	}

	fmt.Printf("%-20s %-10s %-10s %-12s\n", "SENDER_MSISDN", "TENANT_ID", "CHATBOT_ID", "AGENT_ID")
	for _, b := range bindings {
		fmt.Printf("%-20s %-10d %-10d %-12s\n", b.SenderMSISDN, b.TenantID, b.ChatbotID, b.AgentID)
	}
	return nil
}

func deadLettersCmd() *cobra.Command {
	var n int
	var path string
	cmd := &cobra.Command{
		Use:   "deadletters",
		Short: "List recent unroutable inbound events",
		RunE: func(cmd *cobra.Command, args []string) error {
			if path == "" {
				path = os.Getenv("DEAD_LETTER_PATH")
			}
			if path == "" {
				path = "deadletter.db"
			}
			dl, err := deadletter.Open(path)
			if err != nil {
				return fmt.Errorf("deadletters: %w", err)
			}
			defer dl.Close()

			entries, err := dl.Recent(context.Background(), n)
			if err != nil {
				return fmt.Errorf("deadletters: %w", err)
			}
			if len(entries) == 0 {
				fmt.Println("no dead-lettered events")
				return nil
			}
			for _, e := range entries {
				fmt.Printf("[%s] #%d from=%s to=%s reason=%s\n",
					e.ReceivedAt.Format("2006-01-02T15:04:05Z07:00"), e.ID, e.SenderMSISDN, e.DestinationMSISDN, e.Reason)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&n, "limit", "n", 20, "number of entries to show")
	cmd.Flags().StringVar(&path, "path", "", "dead-letter database path (default: $DEAD_LETTER_PATH or deadletter.db)")
	return cmd
}
