package cmd

import (
	"fmt"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/printq/printq/pkg/models"
)

var (
	jobsPlateFilter  string
	jobsStatusFilter string
	failReason       string
)

// jobsCmd represents the jobs command
var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Manage jobs",
	Long:  `Commands for listing jobs and reporting print outcomes.`,
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List jobs",
	RunE:  runJobsList,
}

var jobsStartCmd = &cobra.Command{
	Use:   "start <job-id>",
	Short: "Mark a queued job as printing",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsStart,
}

var jobsCompleteCmd = &cobra.Command{
	Use:   "complete <job-id>",
	Short: "Mark the printing job as completed",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsComplete,
}

var jobsFailCmd = &cobra.Command{
	Use:   "fail <job-id>",
	Short: "Mark the printing job as failed",
	Long:  `Mark a printing job as failed. A replacement job is queued automatically so the plate still gets printed.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsFail,
}

func init() {
	rootCmd.AddCommand(jobsCmd)
	jobsCmd.AddCommand(jobsListCmd)
	jobsCmd.AddCommand(jobsStartCmd)
	jobsCmd.AddCommand(jobsCompleteCmd)
	jobsCmd.AddCommand(jobsFailCmd)

	jobsListCmd.Flags().StringVar(&jobsPlateFilter, "plate", "", "only show jobs of this plate")
	jobsListCmd.Flags().StringVar(&jobsStatusFilter, "status", "", "only show jobs with this status (queued, printing, completed, failed)")
	jobsFailCmd.Flags().StringVar(&failReason, "reason", "", "failure reason")
}

type jobsListResponse struct {
	Jobs  []models.Job `json:"jobs"`
	Count int          `json:"count"`
}

func runJobsList(cmd *cobra.Command, args []string) error {
	query := url.Values{}
	if jobsPlateFilter != "" {
		query.Set("plate_id", jobsPlateFilter)
	}
	if jobsStatusFilter != "" {
		query.Set("status", jobsStatusFilter)
	}
	u := GetServerURL() + "/jobs"
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var result jobsListResponse
	if err := apiGet(u, &result); err != nil {
		return err
	}

	if !IsTableOutput() {
		return PrintStructured(result)
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("ID", "Plate", "Status", "Created", "Started", "Ended")
	for _, job := range result.Jobs {
		table.Append(
			job.ID,
			job.PlateID,
			string(job.Status),
			job.CreatedAt.Format("2006-01-02 15:04"),
			formatOptionalTime(job.StartedAt),
			formatOptionalTime(job.EndedAt),
		)
	}
	table.Render()
	fmt.Printf("\nTotal jobs: %d\n", result.Count)
	return nil
}

func formatOptionalTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Format("2006-01-02 15:04")
}

func runJobsStart(cmd *cobra.Command, args []string) error {
	if err := apiSend("POST", GetServerURL()+"/jobs/"+args[0]+"/start", nil, nil, http.StatusOK); err != nil {
		return err
	}
	fmt.Printf("Job %s is now printing\n", args[0])
	return nil
}

func runJobsComplete(cmd *cobra.Command, args []string) error {
	if err := apiSend("POST", GetServerURL()+"/jobs/"+args[0]+"/complete", nil, nil, http.StatusOK); err != nil {
		return err
	}
	fmt.Printf("Job %s completed\n", args[0])
	return nil
}

func runJobsFail(cmd *cobra.Command, args []string) error {
	var result struct {
		Replacement models.Job `json:"replacement"`
	}
	payload := map[string]string{"reason": failReason}
	if err := apiSend("POST", GetServerURL()+"/jobs/"+args[0]+"/fail", payload, &result, http.StatusOK); err != nil {
		return err
	}
	fmt.Printf("Job %s failed; replacement %s queued\n", args[0], result.Replacement.ID)
	return nil
}
