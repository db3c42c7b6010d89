// Package parser defines the capability shared by every statement parser and
// the table that dispatches a detected file type to its parser.
package parser

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/Veraticus/spice-reconcile/internal/common"
	"github.com/Veraticus/spice-reconcile/internal/model"
)

// Parser turns raw statement bytes into normalized transactions.
type Parser interface {
	// Name returns the parser identifier, e.g. "csv" or "ofx".
	Name() string

	// Parse never fails because of an individual bad row; those are
	// reported in ParseResult.Errors. A returned error means the whole
	// document is unusable.
	Parse(ctx context.Context, content []byte, hint model.BankType) (*model.ParseResult, error)
}

// ErrDuplicateParser is returned when a file type is registered twice.
var ErrDuplicateParser = errors.New("parser already registered")

// Registry maps a file type to the parser that handles it.
type Registry struct {
	parsers map[model.FileType]Parser
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{parsers: make(map[model.FileType]Parser)}
}

// Register binds a parser to a file type.
func (r *Registry) Register(fileType model.FileType, p Parser) error {
	if fileType == model.FileTypeUnknown {
		return fmt.Errorf("%w: cannot register parser %q for unknown file type", common.ErrValidation, p.Name())
	}
	if existing, ok := r.parsers[fileType]; ok {
		return fmt.Errorf("%w: %s is handled by %q", ErrDuplicateParser, fileType, existing.Name())
	}
	r.parsers[fileType] = p
	return nil
}

// MustRegister is Register for static wiring; it panics on error.
func (r *Registry) MustRegister(fileType model.FileType, p Parser) *Registry {
	if err := r.Register(fileType, p); err != nil {
		panic(err)
	}
	return r
}

// Lookup returns the parser for a file type.
func (r *Registry) Lookup(fileType model.FileType) (Parser, error) {
	p, ok := r.parsers[fileType]
	if !ok {
		return nil, fmt.Errorf("%w: no parser for file type %q", common.ErrUnrecognizedFormat, fileType)
	}
	return p, nil
}

// Parse dispatches to the parser registered for fileType.
func (r *Registry) Parse(ctx context.Context, fileType model.FileType, content []byte, hint model.BankType) (*model.ParseResult, error) {
	p, err := r.Lookup(fileType)
	if err != nil {
		return nil, err
	}
	return p.Parse(ctx, content, hint)
}

// FileTypes lists the registered file types in sorted order.
func (r *Registry) FileTypes() []model.FileType {
	types := make([]model.FileType, 0, len(r.parsers))
	for ft := range r.parsers {
		types = append(types, ft)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}
