package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"

	"github.com/zombor/expense-reports/internal/backup"
	"github.com/zombor/expense-reports/internal/expense"
	"github.com/zombor/expense-reports/internal/report"
	"github.com/zombor/expense-reports/internal/scanning"
)

// maxUploadSize bounds scan uploads; phone photos are large
const maxUploadSize = int64(50 << 20)

// setCORSHeaders sets CORS headers on a response
func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Expose-Headers", "Content-Disposition")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

// jsonError writes {"error": message} with the given status
func jsonError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// writeJSON writes v as the response body
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

// statusFor maps service errors onto HTTP statuses
func statusFor(err error) int {
	switch {
	case errors.Is(err, expense.ErrInvalid), errors.Is(err, scanning.ErrInvalidImage):
		return http.StatusBadRequest
	case errors.Is(err, expense.ErrNotFound),
		errors.Is(err, expense.ErrReceiptNotFound),
		errors.Is(err, backup.ErrBackupNotFound):
		return http.StatusNotFound
	case errors.Is(err, backup.ErrManifestNotFound):
		return http.StatusUnprocessableEntity
	case errors.Is(err, scanning.ErrRecognizerUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, scanning.ErrRecognitionFailed):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// serviceError logs err and writes the mapped status. Server errors hide
// their cause from the client.
func serviceError(w http.ResponseWriter, action string, err error) {
	code := statusFor(err)
	if code == http.StatusInternalServerError {
		slog.Error("Error "+action, "error", err)
		jsonError(w, "Internal server error", code)
		return
	}
	slog.Debug("Request rejected", "action", action, "status", code, "error", err)
	jsonError(w, err.Error(), code)
}

// handleScan decodes an uploaded receipt, stores it and returns the fields
// extracted from it
func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		slog.Error("Error parsing multipart form", "error", err)
		errorMsg := "Error parsing form"
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			errorMsg = "File is too large. Maximum size is 50MB. Please compress or resize your image."
		}
		jsonError(w, errorMsg, http.StatusBadRequest)
		return
	}

	f, header, err := r.FormFile("file")
	if err != nil {
		slog.Error("Error getting file from form", "error", err)
		errorMsg := "No file provided"
		if errors.Is(err, http.ErrMissingFile) {
			errorMsg = "No file was selected. Please choose a file to upload."
		}
		jsonError(w, errorMsg, http.StatusBadRequest)
		return
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		slog.Error("Error reading file data", "error", err, "filename", header.Filename)
		jsonError(w, "Error reading file. Please try again.", http.StatusInternalServerError)
		return
	}

	contentType := strings.ToLower(strings.TrimSpace(header.Header.Get("Content-Type")))
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = contentTypeFor(header.Filename)
	}

	scan, err := s.service.ScanReceipt(r.Context(), data, contentType)
	if err != nil {
		if statusFor(err) == http.StatusBadGateway {
			slog.Error("Error scanning receipt", "filename", header.Filename, "error", err)
			jsonError(w, "Text recognition failed. Enter the expense manually or try again.", http.StatusBadGateway)
			return
		}
		serviceError(w, "scanning receipt", err)
		return
	}

	writeJSON(w, http.StatusCreated, scan)
}

// contentTypeFor guesses an upload's type from its file name
func contentTypeFor(filename string) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".pdf":
		return "application/pdf"
	case ".heic":
		return "image/heic"
	case ".heif":
		return "image/heif"
	}
	return "application/octet-stream"
}

// handleGetReceipt serves a stored receipt image
func (s *Server) handleGetReceipt(w http.ResponseWriter, r *http.Request) {
	rc, err := s.service.OpenReceipt(r.PathValue("path"))
	if err != nil {
		serviceError(w, "opening receipt", err)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", "image/jpeg")
	if _, err := io.Copy(w, rc); err != nil {
		slog.Error("Error writing receipt", "error", err)
	}
}

// parseDay accepts any date layout dateparse understands
func parseDay(s string) (time.Time, error) {
	t, err := dateparse.ParseIn(s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: date %q", expense.ErrInvalid, s)
	}
	return t, nil
}

// parseFilter reads start, end, category, tag, q and templates from the
// query string. category and tag may repeat.
func parseFilter(r *http.Request) (expense.Filter, error) {
	q := r.URL.Query()
	filter := expense.Filter{
		CategoryIDs: q["category"],
		TagIDs:      q["tag"],
		Query:       q.Get("q"),
	}

	var err error
	if v := q.Get("start"); v != "" {
		if filter.Start, err = parseDay(v); err != nil {
			return filter, err
		}
	}
	if v := q.Get("end"); v != "" {
		if filter.End, err = parseDay(v); err != nil {
			return filter, err
		}
	}
	if v := q.Get("templates"); v != "" {
		if filter.IncludeTemplates, err = strconv.ParseBool(v); err != nil {
			return filter, fmt.Errorf("%w: templates %q", expense.ErrInvalid, v)
		}
	}
	return filter, nil
}

// handleListExpenses returns the expenses matching the query
func (s *Server) handleListExpenses(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	expenses, err := s.service.ListExpenses(filter)
	if err != nil {
		serviceError(w, "listing expenses", err)
		return
	}
	writeJSON(w, http.StatusOK, expenses)
}

// decodeBody decodes a JSON request body into v
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		jsonError(w, "Invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

// handleCreateExpense saves a new expense
func (s *Server) handleCreateExpense(w http.ResponseWriter, r *http.Request) {
	var e expense.Expense
	if !decodeBody(w, r, &e) {
		return
	}
	created, err := s.service.CreateExpense(&e)
	if err != nil {
		serviceError(w, "creating expense", err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// handleGetExpense returns a single expense
func (s *Server) handleGetExpense(w http.ResponseWriter, r *http.Request) {
	e, err := s.service.GetExpense(r.PathValue("id"))
	if err != nil {
		serviceError(w, "getting expense", err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

// handleUpdateExpense replaces an expense
func (s *Server) handleUpdateExpense(w http.ResponseWriter, r *http.Request) {
	var e expense.Expense
	if !decodeBody(w, r, &e) {
		return
	}
	updated, err := s.service.UpdateExpense(r.PathValue("id"), &e)
	if err != nil {
		serviceError(w, "updating expense", err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// handleDeleteExpense deletes an expense and its receipt
func (s *Server) handleDeleteExpense(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteExpense(r.PathValue("id")); err != nil {
		serviceError(w, "deleting expense", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleGenerateRecurring creates the recurring occurrences due by as_of,
// or by now when absent
func (s *Server) handleGenerateRecurring(w http.ResponseWriter, r *http.Request) {
	var asOf time.Time
	if v := r.URL.Query().Get("as_of"); v != "" {
		var err error
		if asOf, err = parseDay(v); err != nil {
			jsonError(w, err.Error(), http.StatusBadRequest)
			return
		}
	}
	n, err := s.service.GenerateRecurring(asOf)
	if err != nil {
		serviceError(w, "generating recurring expenses", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"generated": n})
}

// handleListCategories returns categories in sort order
func (s *Server) handleListCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := s.service.ListCategories()
	if err != nil {
		serviceError(w, "listing categories", err)
		return
	}
	writeJSON(w, http.StatusOK, categories)
}

// handleCreateCategory saves a new category
func (s *Server) handleCreateCategory(w http.ResponseWriter, r *http.Request) {
	var c expense.Category
	if !decodeBody(w, r, &c) {
		return
	}
	created, err := s.service.CreateCategory(&c)
	if err != nil {
		serviceError(w, "creating category", err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// handleDeleteCategory deletes a category
func (s *Server) handleDeleteCategory(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteCategory(r.PathValue("id")); err != nil {
		serviceError(w, "deleting category", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleListTags returns tags ordered by name
func (s *Server) handleListTags(w http.ResponseWriter, r *http.Request) {
	tags, err := s.service.ListTags()
	if err != nil {
		serviceError(w, "listing tags", err)
		return
	}
	writeJSON(w, http.StatusOK, tags)
}

// handleCreateTag saves a new tag
func (s *Server) handleCreateTag(w http.ResponseWriter, r *http.Request) {
	var t expense.Tag
	if !decodeBody(w, r, &t) {
		return
	}
	created, err := s.service.CreateTag(&t)
	if err != nil {
		serviceError(w, "creating tag", err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// handleDeleteTag deletes a tag
func (s *Server) handleDeleteTag(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteTag(r.PathValue("id")); err != nil {
		serviceError(w, "deleting tag", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleGetPreferences returns the stored preferences
func (s *Server) handleGetPreferences(w http.ResponseWriter, r *http.Request) {
	prefs, err := s.service.GetPreferences()
	if err != nil {
		serviceError(w, "getting preferences", err)
		return
	}
	writeJSON(w, http.StatusOK, prefs)
}

// handleUpdatePreferences stores preferences and switches the currency
func (s *Server) handleUpdatePreferences(w http.ResponseWriter, r *http.Request) {
	var prefs expense.Preferences
	if !decodeBody(w, r, &prefs) {
		return
	}
	updated, err := s.service.UpdatePreferences(&prefs)
	if err != nil {
		serviceError(w, "updating preferences", err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// handleReport renders the selected expenses as a CSV or PDF download,
// optionally zipped with their receipts
func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	format, err := report.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	archive := false
	if v := r.URL.Query().Get("archive"); v != "" {
		if archive, err = strconv.ParseBool(v); err != nil {
			jsonError(w, fmt.Sprintf("invalid archive flag %q", v), http.StatusBadRequest)
			return
		}
	}

	expenses, lookup, err := s.service.Select(filter)
	if err != nil {
		serviceError(w, "selecting expenses", err)
		return
	}

	path, err := s.exporter.Export(report.Request{
		Expenses: expenses,
		Lookup:   lookup,
		Start:    filter.Start,
		End:      filter.End,
	}, format, archive)
	if err != nil {
		slog.Error("Error exporting report", "format", format, "archive", archive, "error", err)
		jsonError(w, fmt.Sprintf("Could not create the report: %v", err), http.StatusInternalServerError)
		return
	}
	slog.Info("Exported report", "path", path, "expenses", len(expenses))

	f, err := os.Open(path)
	if err != nil {
		serviceError(w, "opening report", err)
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		serviceError(w, "reading report", err)
		return
	}

	name := filepath.Base(path)
	w.Header().Set("Content-Type", reportContentType(name))
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))
	http.ServeContent(w, r, name, info.ModTime(), f)
}

func reportContentType(name string) string {
	switch filepath.Ext(name) {
	case ".csv":
		return "text/csv; charset=utf-8"
	case ".zip":
		return "application/zip"
	}
	return "application/pdf"
}

// handleListBackups returns backups newest first
func (s *Server) handleListBackups(w http.ResponseWriter, r *http.Request) {
	backups, err := s.backups.List()
	if err != nil {
		serviceError(w, "listing backups", err)
		return
	}
	writeJSON(w, http.StatusOK, backups)
}

// handleCreateBackup writes a new backup
func (s *Server) handleCreateBackup(w http.ResponseWriter, r *http.Request) {
	info, err := s.backups.Create()
	if err != nil {
		serviceError(w, "creating backup", err)
		return
	}
	writeJSON(w, http.StatusCreated, info)
}

// handleRestoreBackup replaces all data with a backup
func (s *Server) handleRestoreBackup(w http.ResponseWriter, r *http.Request) {
	if err := s.backups.Restore(r.PathValue("id")); err != nil {
		serviceError(w, "restoring backup", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleDeleteBackup removes a backup
func (s *Server) handleDeleteBackup(w http.ResponseWriter, r *http.Request) {
	if err := s.backups.Delete(r.PathValue("id")); err != nil {
		serviceError(w, "deleting backup", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
