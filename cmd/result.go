package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var resultCmd = &cobra.Command{
	Use:   "result <task-id>",
	Short: "Fetch the result of a task",
	Long: `Fetch the terminal result of a task from the API server. Results are
retained for a bounded TTL after completion; while a task is still in
flight the server answers 404 and --wait keeps polling.`,
	Args: cobra.ExactArgs(1),
	RunE: runResult,
}

func init() {
	rootCmd.AddCommand(resultCmd)

	resultCmd.Flags().String("server", "http://localhost:8080", "API server base URL")
	resultCmd.Flags().Bool("wait", false, "Poll until the result is available")
	resultCmd.Flags().Duration("timeout", 60*time.Second, "How long --wait polls before giving up")
}

func runResult(cmd *cobra.Command, args []string) error {
	server := strings.TrimRight(mustGetString(cmd, "server"), "/")
	wait := mustGetBool(cmd, "wait")
	timeout, err := cmd.Flags().GetDuration("timeout")
	if err != nil {
		return err
	}
	taskID := args[0]

	deadline := time.Now().Add(timeout)
	for {
		body, status, err := fetchResult(server, taskID)
		if err != nil {
			return err
		}

		switch status {
		case http.StatusOK:
			var pretty map[string]any
			if err := json.Unmarshal(body, &pretty); err != nil {
				return fmt.Errorf("failed to decode result: %w", err)
			}
			out, _ := json.MarshalIndent(pretty, "", "  ")
			fmt.Println(string(out))
			return nil
		case http.StatusNotFound:
			if !wait {
				fmt.Fprintln(os.Stderr, "No result yet; task unknown or still in flight")
				os.Exit(1)
			}
			if time.Now().After(deadline) {
				return fmt.Errorf("no result for task %s after %s", taskID, timeout)
			}
			time.Sleep(500 * time.Millisecond)
		default:
			return fmt.Errorf("server answered %d: %s", status, strings.TrimSpace(string(body)))
		}
	}
}

func fetchResult(server, taskID string) ([]byte, int, error) {
	resp, err := http.Get(server + "/api/tasks/" + taskID)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to reach server: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read response: %w", err)
	}
	return body, resp.StatusCode, nil
}
