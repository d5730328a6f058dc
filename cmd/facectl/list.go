package main

import (
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List all enrolled faces",
	RunE: func(cmd *cobra.Command, args []string) error {
		records, err := current.gallery.GetAll(cmd.Context())
		if err != nil {
			return err
		}
		if len(records) == 0 {
			fmt.Println("No faces enrolled.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tIMAGE")
		fmt.Fprintln(w, "--\t----\t-----")
		for _, r := range records {
			fmt.Fprintf(w, "%d\t%s\t%s\n", r.ID, r.Name, r.ImagePath)
		}
		return w.Flush()
	},
}

var removeCmd = &cobra.Command{
	Use:   "remove <id>",
	Short: "Remove an enrolled face and its reference image",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid id %q", args[0])
		}
		if err := current.gallery.Remove(cmd.Context(), id); err != nil {
			return err
		}
		fmt.Printf("Removed face %d\n", id)
		return nil
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show gallery and recognition statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		stats, err := current.repo.GetStatistics(cmd.Context())
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintf(w, "Faces:\t%d\n", stats.TotalFaces)
		fmt.Fprintf(w, "Names:\t%d\n", stats.DistinctNames)
		fmt.Fprintf(w, "Events:\t%d\n", stats.TotalEvents)
		fmt.Fprintf(w, "Recognized:\t%d\n", stats.RecognizedEvents)
		fmt.Fprintf(w, "Failed:\t%d\n", stats.FailedEvents)
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(listCmd, removeCmd, statsCmd)
}
