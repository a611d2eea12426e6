package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var submitCmd = &cobra.Command{
	Use:   "submit [image files...]",
	Short: "Submit a face task to the API",
	Long: `Submit a verification or enrollment task to the running API server.

A verify task takes one image; an enroll task takes three or more images of
the same subject. With --dir, every image in the directory is submitted as
its own verify task.`,
	RunE: runSubmit,
}

func init() {
	rootCmd.AddCommand(submitCmd)

	submitCmd.Flags().String("server", "http://localhost:8080", "API server base URL")
	submitCmd.Flags().String("type", "verify", "Task type: verify or enroll")
	submitCmd.Flags().String("task-id", "", "Explicit task id (defaults to server-generated)")
	submitCmd.Flags().String("subject", "", "Subject id (required for enroll)")
	submitCmd.Flags().String("name", "", "Subject display name")
	submitCmd.Flags().String("camera", "", "Camera id recorded with attendance")
	submitCmd.Flags().String("location", "", "Location recorded with attendance")
	submitCmd.Flags().String("dir", "", "Submit every image in a directory as separate verify tasks")
}

type submitPayload struct {
	TaskID      string   `json:"task_id,omitempty"`
	Type        string   `json:"type"`
	Images      [][]byte `json:"images"`
	SubjectID   string   `json:"subject_id,omitempty"`
	SubjectName string   `json:"subject_name,omitempty"`
	CameraID    string   `json:"camera_id,omitempty"`
	Location    string   `json:"location,omitempty"`
}

func runSubmit(cmd *cobra.Command, args []string) error {
	server := strings.TrimRight(mustGetString(cmd, "server"), "/")
	taskType := mustGetString(cmd, "type")
	dir := mustGetString(cmd, "dir")

	base := submitPayload{
		TaskID:      mustGetString(cmd, "task-id"),
		Type:        taskType,
		SubjectID:   mustGetString(cmd, "subject"),
		SubjectName: mustGetString(cmd, "name"),
		CameraID:    mustGetString(cmd, "camera"),
		Location:    mustGetString(cmd, "location"),
	}

	if dir != "" {
		return submitDirectory(server, base, dir)
	}

	if len(args) == 0 {
		return fmt.Errorf("no image files given")
	}

	payload := base
	for _, path := range args {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", path, err)
		}
		payload.Images = append(payload.Images, data)
	}

	taskID, err := postTask(server, payload)
	if err != nil {
		return err
	}
	fmt.Printf("Task submitted: %s\n", taskID)
	return nil
}

// submitDirectory submits every image file in dir as its own verify task.
func submitDirectory(server string, base submitPayload, dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("failed to read directory %s: %w", dir, err)
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(entry.Name())) {
		case ".jpg", ".jpeg", ".png", ".webp":
			files = append(files, filepath.Join(dir, entry.Name()))
		}
	}
	if len(files) == 0 {
		return fmt.Errorf("no image files in %s", dir)
	}

	bar := progressbar.Default(int64(len(files)), "submitting")
	for _, path := range files {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", path, err)
		}

		payload := base
		payload.TaskID = "" // one generated id per file
		payload.Images = [][]byte{data}

		taskID, err := postTask(server, payload)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		bar.Add(1)
		fmt.Printf("%s -> %s\n", filepath.Base(path), taskID)
	}
	return nil
}

func postTask(server string, payload submitPayload) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal task: %w", err)
	}

	resp, err := http.Post(server+"/api/tasks", "application/json", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to reach server: %w", err)
	}
	defer resp.Body.Close()

	var decoded struct {
		TaskID string `json:"task_id"`
		Error  string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("failed to decode server response: %w", err)
	}
	if resp.StatusCode != http.StatusAccepted {
		return "", fmt.Errorf("server rejected task: %s", decoded.Error)
	}
	return decoded.TaskID, nil
}
