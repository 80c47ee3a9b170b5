package cmd

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/printq/printq/pkg/models"
)

var (
	windowStart string
	windowEnd   string
)

// windowsCmd represents the windows command
var windowsCmd = &cobra.Command{
	Use:   "windows",
	Short: "Manage printer unavailability windows",
	Long:  `Commands for declaring intervals during which the printer must not be running, such as nights or planned maintenance.`,
}

var windowsAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Declare an unavailability window",
	RunE:  runWindowsAdd,
}

var windowsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List unavailability windows",
	RunE:  runWindowsList,
}

var windowsRemoveCmd = &cobra.Command{
	Use:   "remove <window-id>",
	Short: "Remove an unavailability window",
	Args:  cobra.ExactArgs(1),
	RunE:  runWindowsRemove,
}

func init() {
	rootCmd.AddCommand(windowsCmd)
	windowsCmd.AddCommand(windowsAddCmd)
	windowsCmd.AddCommand(windowsListCmd)
	windowsCmd.AddCommand(windowsRemoveCmd)

	windowsAddCmd.Flags().StringVar(&windowStart, "start", "", "window start (RFC3339, e.g. 2026-03-02T22:00:00Z)")
	windowsAddCmd.Flags().StringVar(&windowEnd, "end", "", "window end (RFC3339)")
	windowsAddCmd.MarkFlagRequired("start")
	windowsAddCmd.MarkFlagRequired("end")
}

type windowsListResponse struct {
	Windows []models.UnavailabilityWindow `json:"windows"`
	Count   int                           `json:"count"`
}

func runWindowsAdd(cmd *cobra.Command, args []string) error {
	start, err := time.Parse(time.RFC3339, windowStart)
	if err != nil {
		return fmt.Errorf("invalid start %q: %w", windowStart, err)
	}
	end, err := time.Parse(time.RFC3339, windowEnd)
	if err != nil {
		return fmt.Errorf("invalid end %q: %w", windowEnd, err)
	}

	var window models.UnavailabilityWindow
	payload := map[string]time.Time{"start": start, "end": end}
	if err := apiSend("POST", GetServerURL()+"/windows", payload, &window, http.StatusCreated); err != nil {
		return err
	}

	if !IsTableOutput() {
		return PrintStructured(window)
	}

	fmt.Printf("Added window %s: %s to %s\n", window.ID,
		window.Start.Format(time.RFC3339), window.End.Format(time.RFC3339))
	return nil
}

func runWindowsList(cmd *cobra.Command, args []string) error {
	var result windowsListResponse
	if err := apiGet(GetServerURL()+"/windows", &result); err != nil {
		return err
	}

	if !IsTableOutput() {
		return PrintStructured(result)
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("ID", "Start", "End", "Duration")
	for _, w := range result.Windows {
		table.Append(
			w.ID,
			w.Start.Format(time.RFC3339),
			w.End.Format(time.RFC3339),
			formatDuration(int(w.End.Sub(w.Start).Seconds())),
		)
	}
	table.Render()
	fmt.Printf("\nTotal windows: %d\n", result.Count)
	return nil
}

func runWindowsRemove(cmd *cobra.Command, args []string) error {
	if err := apiSend("DELETE", GetServerURL()+"/windows/"+args[0], nil, nil, http.StatusNoContent); err != nil {
		return err
	}
	fmt.Printf("Removed window %s\n", args[0])
	return nil
}
