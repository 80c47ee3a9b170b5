package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/printq/printq/pkg/models"
	"github.com/printq/printq/pkg/service"
)

// queueCmd represents the queue command
var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Show the queue with the projected schedule",
	Long:  `Show the full queue state: project progress, plates, jobs and the projected print timeline around declared unavailability windows.`,
	RunE:  runQueue,
}

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Show just the projected print timeline",
	RunE:  runSchedule,
}

func init() {
	rootCmd.AddCommand(queueCmd)
	rootCmd.AddCommand(scheduleCmd)
}

func runQueue(cmd *cobra.Command, args []string) error {
	var status service.QueueStatus
	if err := apiGet(GetServerURL()+"/queue", &status); err != nil {
		return err
	}

	if !IsTableOutput() {
		return PrintStructured(status)
	}

	fmt.Println("Projects:")
	projects := tablewriter.NewWriter(os.Stdout)
	projects.Header("Name", "Progress")
	for _, p := range status.Projects {
		projects.Append(p.Name, fmt.Sprintf("%d/%d", p.CompletedJobs, p.TotalJobs))
	}
	projects.Render()

	fmt.Println("\nSchedule:")
	renderSchedule(status.Schedule)

	if status.NextBreakpoint != nil {
		fmt.Printf("\nNext schedule change: %s\n", status.NextBreakpoint.Format(time.RFC3339))
	}
	return nil
}

func runSchedule(cmd *cobra.Command, args []string) error {
	var result models.ScheduleResult
	if err := apiGet(GetServerURL()+"/schedule", &result); err != nil {
		return err
	}

	if !IsTableOutput() {
		return PrintStructured(result)
	}

	renderSchedule(result.Jobs)
	if result.NextBreakpoint != nil {
		fmt.Printf("\nNext schedule change: %s\n", result.NextBreakpoint.Format(time.RFC3339))
	}
	return nil
}

func renderSchedule(jobs []models.ScheduledJob) {
	table := tablewriter.NewWriter(os.Stdout)
	table.Header("#", "Plate", "Start", "End", "Duration", "Note")
	for i, job := range jobs {
		note := "-"
		if job.SpansUnavailability {
			note = "spans downtime"
		}
		table.Append(
			fmt.Sprintf("%d", i+1),
			job.PlateName,
			job.ScheduledStart.Format("2006-01-02 15:04"),
			job.ScheduledEnd.Format("2006-01-02 15:04"),
			formatDuration(job.EstimatedDurationSeconds),
			note,
		)
	}
	table.Render()
	fmt.Printf("\nScheduled jobs: %d\n", len(jobs))
}
