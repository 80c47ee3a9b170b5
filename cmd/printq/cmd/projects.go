package cmd

import (
	"bytes"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/printq/printq/pkg/models"
)

var projectNotes string

// projectsCmd represents the projects command
var projectsCmd = &cobra.Command{
	Use:   "projects",
	Short: "Manage projects",
	Long:  `Commands for creating, listing, and deleting print projects.`,
}

var projectsCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a new project",
	Args:  cobra.ExactArgs(1),
	RunE:  runProjectsCreate,
}

var projectsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all projects",
	RunE:  runProjectsList,
}

var projectsDeleteCmd = &cobra.Command{
	Use:   "delete <project-id>",
	Short: "Delete a project and everything it owns",
	Args:  cobra.ExactArgs(1),
	RunE:  runProjectsDelete,
}

var projectsUploadCmd = &cobra.Command{
	Use:   "upload <project-id> <file>",
	Short: "Upload a 3MF or gcode file to a project",
	Long:  `Upload a sliced 3MF project or a standalone gcode file. Each plate found in the file is added to the queue with one job.`,
	Args:  cobra.ExactArgs(2),
	RunE:  runProjectsUpload,
}

func init() {
	rootCmd.AddCommand(projectsCmd)
	projectsCmd.AddCommand(projectsCreateCmd)
	projectsCmd.AddCommand(projectsListCmd)
	projectsCmd.AddCommand(projectsDeleteCmd)
	projectsCmd.AddCommand(projectsUploadCmd)

	projectsCreateCmd.Flags().StringVar(&projectNotes, "notes", "", "free-form project notes")
}

type projectStatusResponse struct {
	models.Project
	CompletedJobs int `json:"completed_jobs"`
	TotalJobs     int `json:"total_jobs"`
}

type projectsListResponse struct {
	Projects []projectStatusResponse `json:"projects"`
	Count    int                     `json:"count"`
}

func runProjectsCreate(cmd *cobra.Command, args []string) error {
	var project models.Project
	payload := map[string]string{"name": args[0], "notes": projectNotes}
	if err := apiSend("POST", GetServerURL()+"/projects", payload, &project, http.StatusCreated); err != nil {
		return err
	}

	if !IsTableOutput() {
		return PrintStructured(project)
	}

	fmt.Printf("Created project %s (%s)\n", project.Name, project.ID)
	return nil
}

func runProjectsList(cmd *cobra.Command, args []string) error {
	var result projectsListResponse
	if err := apiGet(GetServerURL()+"/projects", &result); err != nil {
		return err
	}

	if !IsTableOutput() {
		return PrintStructured(result)
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("ID", "Name", "Progress", "Created")
	for _, p := range result.Projects {
		table.Append(
			p.ID,
			p.Name,
			fmt.Sprintf("%d/%d", p.CompletedJobs, p.TotalJobs),
			p.CreatedAt.Format("2006-01-02 15:04"),
		)
	}
	table.Render()
	fmt.Printf("\nTotal projects: %d\n", result.Count)
	return nil
}

func runProjectsDelete(cmd *cobra.Command, args []string) error {
	if err := apiSend("DELETE", GetServerURL()+"/projects/"+args[0], nil, nil, http.StatusNoContent); err != nil {
		return err
	}
	fmt.Printf("Deleted project %s\n", args[0])
	return nil
}

func runProjectsUpload(cmd *cobra.Command, args []string) error {
	projectID, path := args[0], args[1]

	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return fmt.Errorf("failed to build upload: %w", err)
	}
	if _, err := fw.Write(content); err != nil {
		return fmt.Errorf("failed to build upload: %w", err)
	}
	mw.Close()

	url := fmt.Sprintf("%s/projects/%s/upload", GetServerURL(), projectID)
	req, err := CreateAuthenticatedRequest("POST", url, &buf)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := GetHTTPClient().Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to daemon: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}

	var result platesListResponse
	if err := unmarshalInto(body, &result); err != nil {
		return err
	}

	if !IsTableOutput() {
		return PrintStructured(result)
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Plate ID", "Name", "Estimate", "Qty")
	for _, p := range result.Plates {
		table.Append(p.ID, p.Name, formatDuration(p.EstimatedDurationSeconds), fmt.Sprintf("%d", p.QuantityNeeded))
	}
	table.Render()
	fmt.Printf("\nUploaded %d plates from %s\n", result.Count, filepath.Base(path))
	return nil
}

// formatDuration renders an estimate the way slicers show it
func formatDuration(seconds int) string {
	d := time.Duration(seconds) * time.Second
	if d >= time.Hour {
		return fmt.Sprintf("%dh%02dm", int(d.Hours()), int(d.Minutes())%60)
	}
	return fmt.Sprintf("%dm", int(d.Minutes()))
}
