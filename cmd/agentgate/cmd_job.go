package main

import (
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/user/agentgate/internal/state"
)

func init() {
	rootCmd.AddCommand(jobCmd)
	jobCmd.AddCommand(jobAddCmd, jobListCmd, jobRemoveCmd, jobEnableCmd, jobDisableCmd)

	jobAddCmd.Flags().String("name", "", "job name (required)")
	jobAddCmd.Flags().String("prompt", "", "prompt text (required)")
	jobAddCmd.Flags().String("schedule", "", "cron schedule expression (required)")
	jobAddCmd.Flags().String("owner", "", "owner the job runs as (required)")
	jobAddCmd.Flags().String("context", "", "context key the job runs in (required)")
	_ = jobAddCmd.MarkFlagRequired("name")
	_ = jobAddCmd.MarkFlagRequired("prompt")
	_ = jobAddCmd.MarkFlagRequired("schedule")
	_ = jobAddCmd.MarkFlagRequired("owner")
	_ = jobAddCmd.MarkFlagRequired("context")
}

func jobStore() *state.JobStore {
	cfg := loadConfig()
	return state.NewJobStore(filepath.Join(cfg.DataDir, "jobs.json"))
}

var jobCmd = &cobra.Command{
	Use:   "job",
	Short: "Manage scheduled jobs",
}

var jobAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a new job",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")
		prompt, _ := cmd.Flags().GetString("prompt")
		schedule, _ := cmd.Flags().GetString("schedule")
		owner, _ := cmd.Flags().GetString("owner")
		contextKey, _ := cmd.Flags().GetString("context")

		store := jobStore()
		job := &state.Job{
			Name:       name,
			Prompt:     prompt,
			Schedule:   schedule,
			OwnerID:    owner,
			ContextKey: contextKey,
			Enabled:    true,
		}
		if err := store.Add(job); err != nil {
			return fmt.Errorf("add job: %w", err)
		}
		fmt.Fprintf(os.Stdout, "Job %q added.\n", name)
		return nil
	},
}

var jobListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all jobs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store := jobStore()
		jobs, err := store.List()
		if err != nil {
			return fmt.Errorf("list jobs: %w", err)
		}

		if len(jobs) == 0 {
			fmt.Println("No jobs configured.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tSCHEDULE\tENABLED\tOWNER\tCONTEXT")
		for _, j := range jobs {
			fmt.Fprintf(w, "%s\t%s\t%v\t%s\t%s\n",
				j.Name,
				j.Schedule,
				j.Enabled,
				j.OwnerID,
				j.ContextKey,
			)
		}
		return w.Flush()
	},
}

var jobRemoveCmd = &cobra.Command{
	Use:   "remove <name>",
	Short: "Remove a job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store := jobStore()
		if err := store.Remove(args[0]); err != nil {
			return fmt.Errorf("remove job: %w", err)
		}
		fmt.Fprintf(os.Stdout, "Job %q removed.\n", args[0])
		return nil
	},
}

var jobEnableCmd = &cobra.Command{
	Use:   "enable <name>",
	Short: "Enable a job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store := jobStore()
		if err := store.SetEnabled(args[0], true); err != nil {
			return fmt.Errorf("enable job: %w", err)
		}
		fmt.Fprintf(os.Stdout, "Job %q enabled.\n", args[0])
		return nil
	},
}

var jobDisableCmd = &cobra.Command{
	Use:   "disable <name>",
	Short: "Disable a job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store := jobStore()
		if err := store.SetEnabled(args[0], false); err != nil {
			return fmt.Errorf("disable job: %w", err)
		}
		fmt.Fprintf(os.Stdout, "Job %q disabled.\n", args[0])
		return nil
	},
}
