package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/andresmejia3/verity/internal/utils"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var showJSON bool

var showCmd = &cobra.Command{
	Use:         "show <analysis-id>",
	Short:       "Print a stored analysis report",
	Args:        cobra.ExactArgs(1),
	Annotations: map[string]string{storeAnnotation: storeRequired},
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseAnalysisID(args[0])
		if err != nil {
			return err
		}
		cmd.SilenceUsage = true
		return runShow(cmd.Context(), id)
	},
}

func init() {
	showCmd.Flags().BoolVar(&showJSON, "json", false, "Print the report as JSON on stdout")
	rootCmd.AddCommand(showCmd)
}

// parseAnalysisID accepts the full analysis ID printed by analyze and list.
func parseAnalysisID(arg string) (uuid.UUID, error) {
	id, err := uuid.Parse(arg)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid analysis ID %q: %w", arg, err)
	}
	if id == uuid.Nil {
		return uuid.Nil, fmt.Errorf("invalid analysis ID %q", arg)
	}
	return id, nil
}

func runShow(ctx context.Context, id uuid.UUID) error {
	report, err := DB.GetReport(ctx, id)
	if err != nil {
		utils.ShowError("Failed to load analysis", err, nil)
		return err
	}

	if showJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}
	fmt.Printf("📼 Video ID: %s\n", shortID(report.VideoID))
	printReport(report)
	return nil
}
