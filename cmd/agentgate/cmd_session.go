package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/user/agentgate/internal/store"
)

func init() {
	rootCmd.AddCommand(sessionCmd, auditCmd)
	sessionCmd.AddCommand(sessionListCmd, sessionResetCmd, sessionDeleteCmd)

	auditCmd.Flags().String("owner", "", "owner to show decisions for (required)")
	auditCmd.Flags().Int("limit", 20, "maximum entries to show")
	_ = auditCmd.MarkFlagRequired("owner")
}

func openStore() (*store.Store, error) {
	cfg := loadConfig()
	st, err := store.Open(filepath.Join(cfg.DataDir, "agentgate.db"))
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return st, nil
}

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Manage sessions",
}

var sessionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all sessions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		list, err := st.List(context.Background())
		if err != nil {
			return fmt.Errorf("list sessions: %w", err)
		}

		if len(list) == 0 {
			fmt.Println("No sessions found.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "OWNER\tCONTEXT\tBACKEND SESSION\tTURNS\tCOST\tLAST ACTIVE")
		for _, s := range list {
			backendID := s.BackendSessionID
			if backendID == "" {
				backendID = "-"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t$%.4f\t%s\n",
				s.OwnerID,
				s.ContextKey,
				backendID,
				s.TurnCount,
				s.TotalCost,
				s.LastActiveAt.Format("2006-01-02 15:04:05"),
			)
		}
		return w.Flush()
	},
}

var sessionResetCmd = &cobra.Command{
	Use:   "reset <owner> <context>",
	Short: "Clear a session's backend link so the next trigger starts fresh",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.Reset(context.Background(), args[0], args[1]); err != nil {
			return fmt.Errorf("reset session: %w", err)
		}
		fmt.Fprintf(os.Stdout, "Session %s/%s reset.\n", args[0], args[1])
		return nil
	},
}

var sessionDeleteCmd = &cobra.Command{
	Use:   "delete <owner> <context>",
	Short: "Delete a session",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.Delete(context.Background(), args[0], args[1]); err != nil {
			return fmt.Errorf("delete session: %w", err)
		}
		fmt.Fprintf(os.Stdout, "Session %s/%s deleted.\n", args[0], args[1])
		return nil
	},
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Show recent tool permission decisions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		owner, _ := cmd.Flags().GetString("owner")
		limit, _ := cmd.Flags().GetInt("limit")

		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		entries, err := st.Tail(context.Background(), owner, limit)
		if err != nil {
			return fmt.Errorf("read audit log: %w", err)
		}

		if len(entries) == 0 {
			fmt.Println("No audit entries found.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "TIME\tCONTEXT\tTOOL\tDECISION\tREASON")
		for _, e := range entries {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
				e.OccurredAt.Format("2006-01-02 15:04:05"),
				e.ContextKey,
				e.Tool,
				e.Decision,
				e.Reason,
			)
		}
		return w.Flush()
	},
}
