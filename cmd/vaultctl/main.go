// Package main implements the vaultctl CLI for manual operations
// against a running vaultd daemon.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	// serverURL is the base URL for the vaultd HTTP server
	serverURL string
	// version information
	version = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "vaultctl",
	Short: "CLI for vaultd operations",
	Long: `vaultctl is a command-line interface for a running vaultd daemon.
It enqueues tasks, resolves approval holds, inspects the queue, and
triggers briefings.`,
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:9090", "vaultd server URL")
	rootCmd.AddCommand(enqueueCmd)
	rootCmd.AddCommand(approveCmd)
	rootCmd.AddCommand(denyCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(tasksCmd)
	rootCmd.AddCommand(briefingCmd)
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(dashboardCmd)
}

// HealthResponse matches internal/httpapi HealthResponse.
type HealthResponse struct {
	Status string `json:"status"`
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check vaultd server health",
	RunE: func(cmd *cobra.Command, args []string) error {
		var resp HealthResponse
		if err := getJSON("/health", &resp); err != nil {
			return err
		}
		fmt.Printf("Server Status: %s\n", resp.Status)
		fmt.Printf("Server URL: %s\n", serverURL)
		return nil
	},
}

// getJSON fetches a JSON endpoint from the configured server.
func getJSON(path string, out any) error {
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get(serverURL + path)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", serverURL+path, err)
	}
	defer resp.Body.Close()
	return decodeResponse(resp, out)
}

// postJSON posts a JSON body and decodes the JSON reply.
func postJSON(path string, body any, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
	}

	req, err := http.NewRequest(http.MethodPost, serverURL+path, &buf)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request to %s: %w", serverURL+path, err)
	}
	defer resp.Body.Close()
	return decodeResponse(resp, out)
}

func decodeResponse(resp *http.Response, out any) error {
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return fmt.Errorf("server returned status %d (failed to read response body: %w)", resp.StatusCode, readErr)
		}
		return fmt.Errorf("server returned status %d: %s", resp.StatusCode, string(body))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
