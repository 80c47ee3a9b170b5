package cmd

import (
	"fmt"
	"net/http"
	"os"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/printq/printq/pkg/models"
)

var platesProjectFilter string

// platesCmd represents the plates command
var platesCmd = &cobra.Command{
	Use:   "plates",
	Short: "Manage plates",
	Long:  `Commands for listing plates and adjusting their priority and quantity.`,
}

var platesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List plates",
	RunE:  runPlatesList,
}

var platesDeleteCmd = &cobra.Command{
	Use:   "delete <plate-id>",
	Short: "Delete a plate and its jobs",
	Args:  cobra.ExactArgs(1),
	RunE:  runPlatesDelete,
}

var platesPriorityCmd = &cobra.Command{
	Use:   "priority <plate-id> <priority>",
	Short: "Set a plate's scheduling priority",
	Long:  `Set a plate's priority. Higher values print earlier; the default is 0.`,
	Args:  cobra.ExactArgs(2),
	RunE:  runPlatesPriority,
}

var platesQuantityCmd = &cobra.Command{
	Use:   "quantity <plate-id> <quantity>",
	Short: "Set how many copies of a plate are needed",
	Long:  `Set the needed quantity. Queued jobs are added or removed so that completed plus queued copies match the target; printing jobs are never touched.`,
	Args:  cobra.ExactArgs(2),
	RunE:  runPlatesQuantity,
}

func init() {
	rootCmd.AddCommand(platesCmd)
	platesCmd.AddCommand(platesListCmd)
	platesCmd.AddCommand(platesDeleteCmd)
	platesCmd.AddCommand(platesPriorityCmd)
	platesCmd.AddCommand(platesQuantityCmd)

	platesListCmd.Flags().StringVar(&platesProjectFilter, "project", "", "only show plates of this project")
}

type platesListResponse struct {
	Plates []models.Plate `json:"plates"`
	Count  int            `json:"count"`
}

func runPlatesList(cmd *cobra.Command, args []string) error {
	url := GetServerURL() + "/plates"
	if platesProjectFilter != "" {
		url += "?project_id=" + platesProjectFilter
	}

	var result platesListResponse
	if err := apiGet(url, &result); err != nil {
		return err
	}

	if !IsTableOutput() {
		return PrintStructured(result)
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("ID", "Name", "Source", "Estimate", "Qty", "Priority")
	for _, p := range result.Plates {
		table.Append(
			p.ID,
			p.Name,
			p.SourceFilename,
			formatDuration(p.EstimatedDurationSeconds),
			fmt.Sprintf("%d", p.QuantityNeeded),
			fmt.Sprintf("%d", p.Priority),
		)
	}
	table.Render()
	fmt.Printf("\nTotal plates: %d\n", result.Count)
	return nil
}

func runPlatesDelete(cmd *cobra.Command, args []string) error {
	if err := apiSend("DELETE", GetServerURL()+"/plates/"+args[0], nil, nil, http.StatusNoContent); err != nil {
		return err
	}
	fmt.Printf("Deleted plate %s\n", args[0])
	return nil
}

func runPlatesPriority(cmd *cobra.Command, args []string) error {
	priority, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("invalid priority %q: %w", args[1], err)
	}

	url := GetServerURL() + "/plates/" + args[0] + "/priority"
	payload := map[string]int{"priority": priority}
	if err := apiSend("PUT", url, payload, nil, http.StatusOK); err != nil {
		return err
	}
	fmt.Printf("Set priority of plate %s to %d\n", args[0], priority)
	return nil
}

func runPlatesQuantity(cmd *cobra.Command, args []string) error {
	quantity, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("invalid quantity %q: %w", args[1], err)
	}

	url := GetServerURL() + "/plates/" + args[0] + "/quantity"
	payload := map[string]int{"quantity": quantity}
	if err := apiSend("PUT", url, payload, nil, http.StatusOK); err != nil {
		return err
	}
	fmt.Printf("Set quantity of plate %s to %d\n", args[0], quantity)
	return nil
}
