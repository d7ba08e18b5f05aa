package main

import (
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/vaultd/internal/dashboard"
)

var dashboardInterval time.Duration

func init() {
	dashboardCmd.Flags().DurationVar(&dashboardInterval, "interval", 5*time.Second, "refresh interval")
}

var dashboardCmd = &cobra.Command{
	Use:   "dashboard",
	Short: "Live terminal dashboard for a running vaultd",
	Long: `Open a full-screen terminal dashboard showing queue depths,
throughput, tasks awaiting approval, and recent failures.

Keys: [q] quit, [r] refresh.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		model := dashboard.NewModel(serverURL, dashboardInterval)
		p := tea.NewProgram(model, tea.WithAltScreen())
		if _, err := p.Run(); err != nil {
			return fmt.Errorf("dashboard error: %w", err)
		}
		return nil
	},
}
