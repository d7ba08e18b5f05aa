package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

var (
	enqueueSource string
	enqueueAction string
	tasksStatus   string
)

func init() {
	enqueueCmd.Flags().StringVar(&enqueueSource, "source", "", "producer the task came from (gmail, whatsapp, linkedin, ...)")
	enqueueCmd.Flags().StringVar(&enqueueAction, "action", "", "external action to run (derived from intent when empty)")
	enqueueCmd.MarkFlagRequired("source")

	tasksCmd.Flags().StringVar(&tasksStatus, "status", "", "filter by status (new, needs_action, in_progress, done, failed)")
}

// EnqueueRequest matches internal/httpapi EnqueueRequest.
type EnqueueRequest struct {
	Source string `json:"source"`
	Body   string `json:"body"`
	Action string `json:"action,omitempty"`
}

// EnqueueResponse matches internal/httpapi EnqueueResponse.
type EnqueueResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// TaskView matches internal/httpapi TaskView.
type TaskView struct {
	ID            string `json:"id"`
	Source        string `json:"source"`
	Domain        string `json:"domain,omitempty"`
	Intent        string `json:"intent,omitempty"`
	Priority      string `json:"priority,omitempty"`
	Status        string `json:"status"`
	FailureReason string `json:"failure_reason,omitempty"`
}

// StatusResponse matches internal/httpapi StatusResponse.
type StatusResponse struct {
	Vault  string         `json:"vault"`
	Counts map[string]int `json:"counts"`
}

var enqueueCmd = &cobra.Command{
	Use:   "enqueue [file]",
	Short: "Enqueue a task from a file or stdin",
	Long: `Enqueue a task into the vault's intake partition.

Examples:
  # Enqueue a message body from a file
  vaultctl enqueue --source gmail message.md

  # Enqueue from stdin
  echo "Can you post our launch?" | vaultctl enqueue --source gmail -`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var content []byte
		var err error
		if len(args) == 0 || args[0] == "-" {
			content, err = io.ReadAll(os.Stdin)
			if err != nil {
				return fmt.Errorf("failed to read from stdin: %w", err)
			}
		} else {
			content, err = os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read file %s: %w", args[0], err)
			}
		}
		if len(content) == 0 {
			return fmt.Errorf("no task body to enqueue")
		}

		var resp EnqueueResponse
		req := EnqueueRequest{Source: enqueueSource, Body: string(content), Action: enqueueAction}
		if err := postJSON("/api/v1/tasks", req, &resp); err != nil {
			return err
		}
		fmt.Printf("Enqueued %s (%s)\n", resp.ID, resp.Status)
		return nil
	},
}

var approveCmd = &cobra.Command{
	Use:   "approve <task-id>",
	Short: "Approve a task held for confirmation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := postJSON("/api/v1/tasks/"+args[0]+"/approve", nil, nil); err != nil {
			return err
		}
		fmt.Printf("Approved %s\n", args[0])
		return nil
	},
}

var denyCmd = &cobra.Command{
	Use:   "deny <task-id>",
	Short: "Deny a task held for confirmation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := postJSON("/api/v1/tasks/"+args[0]+"/deny", nil, nil); err != nil {
			return err
		}
		fmt.Printf("Denied %s\n", args[0])
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show partition counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		var resp StatusResponse
		if err := getJSON("/api/v1/status", &resp); err != nil {
			return err
		}
		fmt.Printf("Vault: %s\n", resp.Vault)
		for _, status := range []string{"new", "needs_action", "in_progress", "done", "failed"} {
			fmt.Printf("  %-13s %d\n", status, resp.Counts[status])
		}
		return nil
	},
}

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "List tasks, optionally filtered by status",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "/api/v1/tasks"
		if tasksStatus != "" {
			path += "?status=" + tasksStatus
		}
		var views []TaskView
		if err := getJSON(path, &views); err != nil {
			return err
		}
		if len(views) == 0 {
			fmt.Println("no tasks")
			return nil
		}
		for _, v := range views {
			line := fmt.Sprintf("%-13s %-10s %s", v.Status, v.Source, v.ID)
			if v.FailureReason != "" {
				line += "  (" + v.FailureReason + ")"
			}
			fmt.Println(line)
		}
		return nil
	},
}
