// Package api exposes the import pipeline over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/Veraticus/spice-reconcile/internal/common"
	"github.com/Veraticus/spice-reconcile/internal/model"
	"github.com/Veraticus/spice-reconcile/internal/pipeline"
	"github.com/Veraticus/spice-reconcile/internal/service"
)

// multipartMemory is how much of an upload is buffered in memory before
// spilling to temporary files.
const multipartMemory = 8 << 20

// Runner runs one ingestion.
type Runner interface {
	Run(ctx context.Context, req pipeline.Request) (*pipeline.Response, error)
}

// Ledger pages through import history and stored transactions.
type Ledger interface {
	ListImportHistory(ctx context.Context, filter service.HistoryFilter) ([]model.ImportHistory, int, error)
	ListTransactions(ctx context.Context, filter service.TransactionFilter) ([]model.StoredTransaction, int, error)
}

// Server holds the HTTP handlers.
type Server struct {
	runner    Runner
	ledger    Ledger
	maxUpload int64
}

// NewServer creates a server. Uploads larger than maxUpload bytes are
// rejected with 413.
func NewServer(runner Runner, ledger Ledger, maxUpload int64) *Server {
	return &Server{runner: runner, ledger: ledger, maxUpload: maxUpload}
}

// Router returns the route table.
func (s *Server) Router() *mux.Router {
	router := mux.NewRouter()
	router.Use(logRequests)

	router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)

	router.HandleFunc("/api/bank-import", s.handleImport).Methods(http.MethodPost)
	router.HandleFunc("/api/bank-import/history", s.handleHistory).Methods(http.MethodGet)
	router.HandleFunc("/api/bank-import/transactions", s.handleTransactions).Methods(http.MethodGet)
	router.HandleFunc("/api/bank-import/banks", s.handleBanks).Methods(http.MethodGet)

	return router
}

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error   string   `json:"error"`
	Details []string `json:"details,omitempty"`
}

func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	if r.ContentLength > s.maxUpload {
		respondError(w, http.StatusRequestEntityTooLarge,
			fmt.Sprintf("file exceeds the %d byte upload limit", s.maxUpload))
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(w, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("file exceeds the %d byte upload limit", s.maxUpload))
			return
		}
		respondError(w, http.StatusBadRequest, "failed to parse multipart form", err.Error())
		return
	}
	defer func() {
		_ = r.MultipartForm.RemoveAll()
	}()

	req, err := requestFromForm(r)
	if err != nil {
		respondErr(w, err)
		return
	}

	resp, err := s.runner.Run(r.Context(), req)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

// requestFromForm reads the uploaded file and flags from a parsed form.
func requestFromForm(r *http.Request) (pipeline.Request, error) {
	file, header, err := r.FormFile("file")
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			return pipeline.Request{}, common.NewUserError("no file was uploaded", common.ErrValidation)
		}
		return pipeline.Request{}, common.NewUserError("failed to read upload", common.ErrValidation, err.Error())
	}
	defer func() {
		_ = file.Close()
	}()

	content, err := io.ReadAll(file)
	if err != nil {
		return pipeline.Request{}, fmt.Errorf("reading upload: %w", err)
	}

	req := pipeline.NewRequest(model.RawFile{
		Name:        header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Content:     content,
		Size:        header.Size,
	})

	flags := []struct {
		dst  *bool
		name string
	}{
		{&req.AutoMatch, "autoMatch"},
		{&req.AutoConfirm, "autoConfirm"},
		{&req.OnlyHighConfidence, "onlyHighConfidence"},
		{&req.SkipDuplicates, "skipDuplicates"},
		{&req.SaveTransactions, "saveTransactions"},
	}
	for _, f := range flags {
		if err := formBool(r, f.name, f.dst); err != nil {
			return pipeline.Request{}, err
		}
	}

	if raw := r.FormValue("fileType"); raw != "" {
		req.FileType = model.ParseFileType(raw)
		if req.FileType == model.FileTypeUnknown {
			return pipeline.Request{}, common.NewUserError(
				fmt.Sprintf("unsupported fileType %q; use csv or ofx", raw), common.ErrValidation)
		}
	}

	bank, err := model.ParseBankType(r.FormValue("bankType"))
	if err != nil {
		return pipeline.Request{}, common.NewUserError(err.Error(), common.ErrValidation)
	}
	req.BankType = bank

	return req, nil
}

// formBool overwrites *dst when the field is present. Absent fields keep
// the request default.
func formBool(r *http.Request, name string, dst *bool) error {
	raw := r.FormValue(name)
	if raw == "" {
		return nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return common.NewUserError(fmt.Sprintf("%s must be true or false, got %q", name, raw), common.ErrValidation)
	}
	*dst = v
	return nil
}

type historyPage struct {
	History []model.ImportHistory `json:"history"`
	Total   int                   `json:"total"`
	Offset  int                   `json:"offset"`
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	filter := service.HistoryFilter{Status: model.ImportStatus(query.Get("status"))}
	switch filter.Status {
	case "", model.ImportCompleted, model.ImportPartial, model.ImportFailed:
	default:
		respondError(w, http.StatusBadRequest, fmt.Sprintf("unknown status %q", filter.Status))
		return
	}

	var err error
	if filter.Limit, err = queryInt(query.Get("limit")); err != nil {
		respondError(w, http.StatusBadRequest, "limit must be a non-negative integer")
		return
	}
	if filter.Offset, err = queryInt(query.Get("offset")); err != nil {
		respondError(w, http.StatusBadRequest, "offset must be a non-negative integer")
		return
	}

	rows, total, err := s.ledger.ListImportHistory(r.Context(), filter)
	if err != nil {
		respondErr(w, err)
		return
	}
	if rows == nil {
		rows = []model.ImportHistory{}
	}
	respondJSON(w, http.StatusOK, historyPage{
		History: rows,
		Total:   total,
		Offset:  filter.Offset,
	})
}

type transactionPage struct {
	Transactions []model.StoredTransaction `json:"transactions"`
	Total        int                       `json:"total"`
	Offset       int                       `json:"offset"`
}

func (s *Server) handleTransactions(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	filter := service.TransactionFilter{
		ImportID: query.Get("importId"),
		Type:     model.TransactionType(query.Get("type")),
	}
	switch filter.Type {
	case "", model.TypeDeposit, model.TypeWithdrawal:
	default:
		respondError(w, http.StatusBadRequest, fmt.Sprintf("unknown type %q", filter.Type))
		return
	}

	var err error
	if filter.From, err = queryDate(query.Get("from")); err != nil {
		respondError(w, http.StatusBadRequest, "from must be a YYYY-MM-DD date")
		return
	}
	if filter.To, err = queryDate(query.Get("to")); err != nil {
		respondError(w, http.StatusBadRequest, "to must be a YYYY-MM-DD date")
		return
	}
	if filter.From != nil && filter.To != nil && filter.To.Before(*filter.From) {
		respondError(w, http.StatusBadRequest, "to is before from")
		return
	}
	if filter.Limit, err = queryInt(query.Get("limit")); err != nil {
		respondError(w, http.StatusBadRequest, "limit must be a non-negative integer")
		return
	}
	if filter.Offset, err = queryInt(query.Get("offset")); err != nil {
		respondError(w, http.StatusBadRequest, "offset must be a non-negative integer")
		return
	}

	rows, total, err := s.ledger.ListTransactions(r.Context(), filter)
	if err != nil {
		respondErr(w, err)
		return
	}
	if rows == nil {
		rows = []model.StoredTransaction{}
	}
	respondJSON(w, http.StatusOK, transactionPage{
		Transactions: rows,
		Total:        total,
		Offset:       filter.Offset,
	})
}

func queryDate(raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	d, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func queryInt(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, fmt.Errorf("negative value %d", n)
	}
	return n, nil
}

func (s *Server) handleBanks(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"banks": model.SupportedBanks()})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// respondErr maps an error to its status code: 400 for caller mistakes,
// 500 for everything else.
func respondErr(w http.ResponseWriter, err error) {
	var userErr *common.UserError
	isUser := errors.As(err, &userErr)

	if errors.Is(err, common.ErrValidation) || errors.Is(err, common.ErrUnrecognizedFormat) {
		if isUser {
			respondError(w, http.StatusBadRequest, userErr.UserMessage, userErr.Details...)
			return
		}
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	// Internal errors are logged, never echoed to the client.
	common.LogError(err, "Request failed", common.Fields{"status": http.StatusInternalServerError})
	respondError(w, http.StatusInternalServerError, "internal server error")
}

func respondError(w http.ResponseWriter, status int, msg string, details ...string) {
	respondJSON(w, status, errorBody{Error: msg, Details: details})
}

func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Warn("Failed to write response", "error", err)
	}
}

// statusRecorder captures the status code for request logging.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		slog.Info("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start))
	})
}
