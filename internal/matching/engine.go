// Package matching pairs deposits with outstanding invoices and grades each
// pairing with a confidence tier.
package matching

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/Veraticus/spice-reconcile/internal/fingerprint"
	"github.com/Veraticus/spice-reconcile/internal/model"
)

// DefaultWorkers bounds concurrent evaluation when no limit is configured.
const DefaultWorkers = 8

// Engine matches deposits against an invoice snapshot. It holds no mutable
// state and is safe for concurrent use.
type Engine struct {
	workers int
}

// NewEngine creates an engine evaluating at most workers transactions at once.
func NewEngine(workers int) *Engine {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	return &Engine{workers: workers}
}

// snapshot is the outstanding invoice set indexed by amount.
type snapshot struct {
	byAmount map[int64][]model.Invoice
	total    int
}

func newSnapshot(invoices []model.Invoice) snapshot {
	outstanding := make([]model.Invoice, 0, len(invoices))
	for _, inv := range invoices {
		if inv.IsOutstanding() {
			outstanding = append(outstanding, inv)
		}
	}
	sort.SliceStable(outstanding, func(i, j int) bool {
		return outstanding[i].InvoiceNumber < outstanding[j].InvoiceNumber
	})

	s := snapshot{byAmount: make(map[int64][]model.Invoice), total: len(outstanding)}
	for _, inv := range outstanding {
		s.byAmount[inv.Outstanding()] = append(s.byAmount[inv.Outstanding()], inv)
	}
	return s
}

// Match evaluates every deposit in txs against invoices. Withdrawals are
// skipped. Results are in the input order of the deposits.
func (e *Engine) Match(ctx context.Context, txs []model.ParsedTransaction, invoices []model.Invoice) ([]model.MatchResult, error) {
	deposits := make([]model.ParsedTransaction, 0, len(txs))
	for _, tx := range txs {
		if tx.IsDeposit() {
			deposits = append(deposits, tx)
		}
	}

	snap := newSnapshot(invoices)
	results := make([]model.MatchResult, len(deposits))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for i := range deposits {
		i := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = matchOne(deposits[i], snap)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	slog.Info("Matched deposits", summarize(results)...)
	return results, nil
}

// matchOne applies the rules in priority order. When a rule matches several
// candidates the first in invoice number order wins.
func matchOne(tx model.ParsedTransaction, snap snapshot) model.MatchResult {
	result := model.MatchResult{
		Transaction: tx,
		Fingerprint: fingerprint.Of(tx),
		Confidence:  model.ConfidenceNone,
	}

	if snap.total == 0 {
		result.MatchReason = "no outstanding invoices"
		return result
	}
	candidates := snap.byAmount[tx.Amount]
	if len(candidates) == 0 {
		result.MatchReason = fmt.Sprintf("no outstanding invoice for amount %d", tx.Amount)
		return result
	}

	for _, inv := range candidates {
		if referenceMatches(tx.ReferenceNumber, inv.InvoiceNumber) ||
			referenceMatches(tx.Content, inv.InvoiceNumber) ||
			referenceMatches(tx.Memo, inv.InvoiceNumber) {
			return choose(result, inv, model.ConfidenceHigh,
				fmt.Sprintf("amount and reference number match invoice %s", inv.InvoiceNumber))
		}
	}

	name := tx.CustomerName
	if name == "" {
		name = tx.Content
	}
	for _, inv := range candidates {
		if namesMatch(name, inv.CustomerName) {
			return choose(result, inv, model.ConfidenceHigh,
				fmt.Sprintf("amount and customer name match invoice %s (%s)", inv.InvoiceNumber, inv.CustomerName))
		}
	}

	if len(candidates) == 1 {
		return choose(result, candidates[0], model.ConfidenceMedium,
			fmt.Sprintf("amount matches invoice %s", candidates[0].InvoiceNumber))
	}

	numbers := make([]string, len(candidates))
	result.Candidates = make([]model.InvoiceRef, len(candidates))
	for i, inv := range candidates {
		numbers[i] = inv.InvoiceNumber
		result.Candidates[i] = inv.Ref()
	}
	result.Confidence = model.ConfidenceLow
	result.MatchReason = fmt.Sprintf("amount matches %d invoices: %s", len(candidates), strings.Join(numbers, ", "))
	return result
}

func choose(result model.MatchResult, inv model.Invoice, confidence model.Confidence, reason string) model.MatchResult {
	ref := inv.Ref()
	result.Invoice = &ref
	result.Confidence = confidence
	result.MatchReason = reason
	return result
}

// Counts tallies results per confidence tier.
type Counts struct {
	High   int `json:"high"`
	Medium int `json:"medium"`
	Low    int `json:"low"`
	None   int `json:"none"`
}

// Matched returns the number of results with an invoice attached.
func (c Counts) Matched() int {
	return c.High + c.Medium
}

// Count tallies results per confidence tier.
func Count(results []model.MatchResult) Counts {
	var c Counts
	for _, r := range results {
		switch r.Confidence {
		case model.ConfidenceHigh:
			c.High++
		case model.ConfidenceMedium:
			c.Medium++
		case model.ConfidenceLow:
			c.Low++
		default:
			c.None++
		}
	}
	return c
}

func summarize(results []model.MatchResult) []any {
	c := Count(results)
	return []any{
		"deposits", len(results),
		"high", c.High,
		"medium", c.Medium,
		"low", c.Low,
		"none", c.None,
	}
}
