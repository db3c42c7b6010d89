package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Veraticus/spice-reconcile/internal/cli"
	"github.com/Veraticus/spice-reconcile/internal/config"
	"github.com/Veraticus/spice-reconcile/internal/model"
)

func invoicesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "invoices",
		Short: "Manage the local invoice table",
		Long: `Manage invoices kept in the local database.

Only meaningful with invoices.source set to sqlite; with the http source the
remote invoice service owns the data.`,
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "load FILE.yaml",
		Short: "Create or update invoices from a YAML file",
		Long: `Create or update invoices from a YAML file of the form:

  invoices:
    - id: inv-1
      invoiceNumber: INV-100
      customerName: アクメ株式会社
      totalAmount: 120000`,
		Args: cobra.ExactArgs(1),
		RunE: runInvoicesLoad,
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List outstanding invoices",
		RunE:  runInvoicesList,
	})

	return cmd
}

// invoiceFile is the YAML document accepted by invoices load.
type invoiceFile struct {
	Invoices []model.Invoice `yaml:"invoices"`
}

// readInvoiceFile decodes r, rejecting unknown keys so typos surface.
func readInvoiceFile(r io.Reader) ([]model.Invoice, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var doc invoiceFile
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("invoice file is empty")
		}
		return nil, fmt.Errorf("invalid invoice file: %w", err)
	}
	for i := range doc.Invoices {
		if doc.Invoices[i].Status == "" {
			doc.Invoices[i].Status = model.InvoiceUnpaid
		}
	}
	return doc.Invoices, nil
}

func runInvoicesLoad(cmd *cobra.Command, args []string) error {
	f, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	invoices, err := readInvoiceFile(f)
	if err != nil {
		return err
	}

	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	if a.cfg.Invoices.Source != config.InvoiceSourceSQLite {
		return fmt.Errorf("invoices.source is %q; load only applies to the sqlite source", a.cfg.Invoices.Source)
	}

	for i := range invoices {
		if err := a.store.SaveInvoice(cmd.Context(), &invoices[i]); err != nil {
			return fmt.Errorf("invoice %d (%s): %w", i+1, invoices[i].InvoiceNumber, err)
		}
	}

	fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess(fmt.Sprintf("Loaded %d invoices", len(invoices))))
	return nil
}

func runInvoicesList(cmd *cobra.Command, _ []string) error {
	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	invoices, err := a.invoices.OutstandingInvoices(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to list invoices: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(invoices) == 0 {
		fmt.Fprintln(out, cli.FormatInfo("No outstanding invoices"))
		return nil
	}

	exp := a.cfg.Currency.Exponent
	t := table.New().
		Border(lipgloss.HiddenBorder()).
		Headers("Number", "Customer", "Status", "Total", "Paid", "Outstanding").
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return cli.TableHeaderStyle
			}
			return cli.TableCellStyle
		})
	for _, inv := range invoices {
		t.Row(inv.InvoiceNumber, inv.CustomerName, string(inv.Status),
			cli.FormatAmount(inv.TotalAmount, exp),
			cli.FormatAmount(inv.PaidAmount, exp),
			cli.FormatAmount(inv.Outstanding(), exp))
	}
	fmt.Fprintln(out, t.String())
	fmt.Fprintln(out, cli.SubtleStyle.Render(strconv.Itoa(len(invoices))+" outstanding"))
	return nil
}
