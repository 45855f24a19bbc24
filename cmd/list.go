package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/andresmejia3/verity/internal/store"
	"github.com/andresmejia3/verity/internal/utils"
	"github.com/spf13/cobra"
)

var listLimit int

var listCmd = &cobra.Command{
	Use:         "list",
	Short:       "List past analyses stored in the database",
	Annotations: map[string]string{storeAnnotation: storeRequired},
	Run: func(cmd *cobra.Command, args []string) {
		runList(cmd.Context())
	},
}

func init() {
	listCmd.Flags().IntVarP(&listLimit, "limit", "n", 20, "Number of analyses to show (0 shows all)")
	rootCmd.AddCommand(listCmd)
}

func runList(ctx context.Context) {
	records, err := DB.ListReports(ctx, listLimit)
	if err != nil {
		utils.Die("Failed to list analyses", err, nil)
	}

	if len(records) == 0 {
		fmt.Println("No analyses found in database.")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	printRecords(w, records)
	w.Flush()
}

func printRecords(w *tabwriter.Writer, records []store.Record) {
	fmt.Fprintln(w, "ID\tVIDEO\tPATH\tOUTPUT\tCONFIDENCE\tRAW\tWARNINGS\tCREATED")
	fmt.Fprintln(w, "--\t-----\t----\t------\t----------\t---\t--------\t-------")

	for _, r := range records {
		warnings := "-"
		if len(r.Warnings) > 0 {
			warnings = strings.Join(r.Warnings, "; ")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%.2f%%\t%.2f%%\t%s\t%s\n",
			r.ID, shortID(r.VideoID), r.Path, r.Output, r.Confidence, r.RawConfidence,
			warnings, r.CreatedAt.Local().Format("2006-01-02 15:04"))
	}
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
