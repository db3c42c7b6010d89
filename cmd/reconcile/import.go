package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Veraticus/spice-reconcile/internal/cli"
	"github.com/Veraticus/spice-reconcile/internal/common"
	"github.com/Veraticus/spice-reconcile/internal/model"
	"github.com/Veraticus/spice-reconcile/internal/pipeline"
)

func importCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import FILE...",
		Short: "Import bank statement files",
		Long: `Import one or more bank CSV exports or OFX/QFX statements.

Each file is parsed, checked against previously imported transactions and
stored. Deposits are matched against outstanding invoices, and with
--auto-confirm confident matches are recorded as payments.

Importing the same file twice is safe: stored transactions are skipped as
duplicates and payments are never recorded twice.`,
		Args: cobra.MinimumNArgs(1),
		RunE: runImport,
	}

	cmd.Flags().Bool("save", true, "store new transactions and an import history record")
	cmd.Flags().Bool("auto-match", true, "match deposits against outstanding invoices")
	cmd.Flags().Bool("auto-confirm", false, "record payments for confident matches")
	cmd.Flags().Bool("only-high-confidence", true, "with --auto-confirm, settle only high confidence matches")
	cmd.Flags().Bool("skip-duplicates", true, "skip transactions that were already imported")
	cmd.Flags().String("file-type", "", "force the file type (csv, ofx)")
	cmd.Flags().String("bank", "auto", "bank CSV dialect (see 'reconcile banks')")
	cmd.Flags().Bool("json", false, "print results as JSON")
	cmd.Flags().Bool("show-matches", false, "print a table of match results")

	return cmd
}

// fileResult is the outcome for one file argument.
type fileResult struct {
	Response *pipeline.Response `json:"response,omitempty"`
	File     string             `json:"file"`
	Error    string             `json:"error,omitempty"`
	Details  []string           `json:"details,omitempty"`
}

func runImport(cmd *cobra.Command, args []string) error {
	asJSON, _ := cmd.Flags().GetBool("json")
	showMatches, _ := cmd.Flags().GetBool("show-matches")

	// Validate flags before touching the database.
	if _, err := buildRequest(cmd, model.RawFile{}); err != nil {
		return err
	}

	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	interrupts := cli.NewInterruptHandler(cmd.ErrOrStderr())
	ctx, stop := interrupts.HandleInterrupts(cmd.Context())
	defer stop()

	bar := cli.NewProgress(cmd.ErrOrStderr(), len(args), "Importing statements...")
	showBar := len(args) > 1 && !asJSON

	results := make([]fileResult, 0, len(args))
	failed := 0
	for _, path := range args {
		if ctx.Err() != nil {
			break
		}

		result := importFile(ctx, cmd, a, path)
		if result.Error != "" {
			failed++
		}
		results = append(results, result)

		if showBar {
			cli.Step(bar)
		}
	}

	out := cmd.OutOrStdout()
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(results); err != nil {
			return fmt.Errorf("failed to write results: %w", err)
		}
	} else {
		for _, r := range results {
			if r.Error != "" {
				fmt.Fprintln(out, cli.FormatError(r.File+": "+r.Error))
				for _, d := range r.Details {
					fmt.Fprintln(out, "  "+cli.ErrorStyle.Render(d))
				}
				continue
			}
			fmt.Fprintln(out, cli.ImportSummary(filepath.Base(r.File), r.Response, a.cfg.Currency.Exponent))
			if showMatches && r.Response.MatchResults != nil && len(*r.Response.MatchResults) > 0 {
				fmt.Fprintln(out, cli.MatchTable(*r.Response.MatchResults, a.cfg.Currency.Exponent))
			}
		}
	}

	if interrupts.WasInterrupted() {
		return ctx.Err()
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d files failed to import", failed, len(args))
	}
	return nil
}

func importFile(ctx context.Context, cmd *cobra.Command, a *app, path string) fileResult {
	result := fileResult{File: path}

	content, err := os.ReadFile(path)
	if err != nil {
		result.Error = err.Error()
		return result
	}

	req, err := buildRequest(cmd, model.RawFile{
		Name:    filepath.Base(path),
		Content: content,
		Size:    int64(len(content)),
	})
	if err != nil {
		result.Error = err.Error()
		return result
	}

	resp, err := a.pipeline.Run(ctx, req)
	if err != nil {
		var userErr *common.UserError
		if errors.As(err, &userErr) {
			result.Error = userErr.UserMessage
			result.Details = userErr.Details
		} else {
			result.Error = err.Error()
		}
		slog.Debug("Import failed", "file", path, "error", err)
		return result
	}

	result.Response = resp
	return result
}

// buildRequest maps the command's flags onto a pipeline request.
func buildRequest(cmd *cobra.Command, file model.RawFile) (pipeline.Request, error) {
	flags := cmd.Flags()
	req := pipeline.NewRequest(file)

	req.SaveTransactions, _ = flags.GetBool("save")
	req.AutoMatch, _ = flags.GetBool("auto-match")
	req.AutoConfirm, _ = flags.GetBool("auto-confirm")
	req.OnlyHighConfidence, _ = flags.GetBool("only-high-confidence")
	req.SkipDuplicates, _ = flags.GetBool("skip-duplicates")

	if raw, _ := flags.GetString("file-type"); raw != "" {
		req.FileType = model.ParseFileType(raw)
		if req.FileType == model.FileTypeUnknown {
			return pipeline.Request{}, fmt.Errorf("%w: unsupported file type %q; use csv or ofx", common.ErrValidation, raw)
		}
	}

	rawBank, _ := flags.GetString("bank")
	bank, err := model.ParseBankType(rawBank)
	if err != nil {
		return pipeline.Request{}, fmt.Errorf("%w: %w", common.ErrValidation, err)
	}
	req.BankType = bank

	return req, nil
}
