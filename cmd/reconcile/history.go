package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Veraticus/spice-reconcile/internal/cli"
	"github.com/Veraticus/spice-reconcile/internal/model"
	"github.com/Veraticus/spice-reconcile/internal/service"
)

func historyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List past imports",
		RunE:  runHistory,
	}

	cmd.Flags().String("status", "", "filter by status (completed, partial, failed)")
	cmd.Flags().Int("limit", 20, "maximum rows to show")
	cmd.Flags().Int("offset", 0, "rows to skip")
	cmd.Flags().Bool("json", false, "print history as JSON")

	return cmd
}

func runHistory(cmd *cobra.Command, _ []string) error {
	status, _ := cmd.Flags().GetString("status")
	limit, _ := cmd.Flags().GetInt("limit")
	offset, _ := cmd.Flags().GetInt("offset")
	asJSON, _ := cmd.Flags().GetBool("json")

	filter := service.HistoryFilter{Status: model.ImportStatus(status), Limit: limit, Offset: offset}
	switch filter.Status {
	case "", model.ImportCompleted, model.ImportPartial, model.ImportFailed:
	default:
		return fmt.Errorf("unknown status %q", status)
	}

	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	rows, total, err := a.pipeline.Importer().ListImportHistory(cmd.Context(), filter)
	if err != nil {
		return fmt.Errorf("failed to list history: %w", err)
	}

	out := cmd.OutOrStdout()
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{"history": rows, "total": total})
	}

	if len(rows) == 0 {
		fmt.Fprintln(out, cli.FormatInfo("No imports yet"))
		return nil
	}
	fmt.Fprintln(out, cli.HistoryTable(rows, a.cfg.Currency.Exponent))
	fmt.Fprintln(out, cli.SubtleStyle.Render(fmt.Sprintf("%d of %d imports", len(rows), total)))
	return nil
}

func banksCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "banks",
		Short: "List supported bank CSV formats",
		RunE: func(cmd *cobra.Command, _ []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), cli.BanksTable(model.SupportedBanks()))
			fmt.Fprintln(cmd.OutOrStdout(), cli.SubtleStyle.Render("OFX/QFX statements are detected automatically."))
			return nil
		},
	}
}
