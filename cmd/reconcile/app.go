package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/viper"

	"github.com/Veraticus/spice-reconcile/internal/config"
	"github.com/Veraticus/spice-reconcile/internal/invoice"
	"github.com/Veraticus/spice-reconcile/internal/pipeline"
	"github.com/Veraticus/spice-reconcile/internal/service"
	"github.com/Veraticus/spice-reconcile/internal/storage"
)

// app bundles what every data command opens.
type app struct {
	cfg      *config.Config
	store    *storage.SQLiteStorage
	invoices service.InvoiceStore
	pipeline *pipeline.Pipeline
}

// openApp loads the configuration, opens and migrates the database and
// wires the pipeline. Callers must Close the returned app.
func openApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, err
	}

	store, err := storage.NewSQLiteStorage(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	invoices, err := invoiceStore(cfg, store)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	slog.Debug("Opened database", "path", cfg.Database.Path, "invoices", cfg.Invoices.Source)

	return &app{
		cfg:      cfg,
		store:    store,
		invoices: invoices,
		pipeline: pipeline.New(cfg, store, invoices),
	}, nil
}

// invoiceStore selects the invoice collaborator named by the configuration.
func invoiceStore(cfg *config.Config, store *storage.SQLiteStorage) (service.InvoiceStore, error) {
	if cfg.Invoices.Source != config.InvoiceSourceHTTP {
		return store, nil
	}

	var opts []invoice.Option
	if cfg.Invoices.Token != "" {
		opts = append(opts, invoice.WithToken(cfg.Invoices.Token))
	}
	client, err := invoice.NewClient(cfg.Invoices.BaseURL, cfg.Invoices.Timeout, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create invoice client: %w", err)
	}
	return client, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		slog.Warn("Failed to close database", "error", err)
	}
}
