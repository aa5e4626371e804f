package bridge

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/goodtune/dwell/internal/storage"
	"github.com/goodtune/dwell/internal/usage"
	"github.com/gorilla/mux"
)

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(data); err != nil {
		http.Error(w, `{"error":"Internal Server Error","message":"Failed to encode response"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_, _ = w.Write(buf.Bytes())
}

// writeError writes an error response.
func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
		Code:    statusCode,
	})
}

// DailyTotal is the reply for a single (hostname, date) query.
type DailyTotal struct {
	Hostname string  `json:"hostname"`
	Date     string  `json:"date"`
	Seconds  float64 `json:"seconds"`
}

// WatchlistBody is the request and response body of the watchlist endpoints.
type WatchlistBody struct {
	Hostnames []string `json:"hostnames"`
}

// ToggleResult reports the watchlist membership after a toggle.
type ToggleResult struct {
	Hostname string `json:"hostname"`
	Watched  bool   `json:"watched"`
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions := s.tracker.Sessions()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"sessions": sessions,
		"count":    len(sessions),
	})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	ctx := usage.ContextID(mux.Vars(r)["context"])

	snap, err := s.tracker.QuerySessionElapsed(ctx)
	if err != nil {
		writeError(w, http.StatusNotFound, "No timer for context")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleListHostnames(w http.ResponseWriter, r *http.Request) {
	hosts, err := s.tracker.Hostnames(r.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to list ledger hostnames")
		writeError(w, http.StatusInternalServerError, "Failed to read ledger")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"hostnames": hosts,
		"count":     len(hosts),
	})
}

func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	hostname := mux.Vars(r)["hostname"]

	days, err := s.tracker.QueryHistory(r.Context(), hostname)
	if err != nil {
		s.writeQueryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"hostname": hostname,
		"days":     days,
	})
}

func (s *Server) handleGetDaily(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	hostname, date := vars["hostname"], vars["date"]

	if _, err := time.Parse(storage.DateLayout, date); err != nil {
		writeError(w, http.StatusBadRequest, "Date must be YYYY-MM-DD")
		return
	}

	seconds, err := s.tracker.QueryDailyTotal(r.Context(), hostname, date)
	if err != nil {
		s.writeQueryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, DailyTotal{Hostname: hostname, Date: date, Seconds: seconds})
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	period, err := usage.ParsePeriod(r.URL.Query().Get("period"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var ref time.Time
	if d := r.URL.Query().Get("date"); d != "" {
		ref, err = time.ParseInLocation(storage.DateLayout, d, time.Local)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Date must be YYYY-MM-DD")
			return
		}
	}

	summary, err := s.tracker.Summarize(r.Context(), s.watchlist.Get(), period, ref)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to build summary")
		writeError(w, http.StatusInternalServerError, "Failed to build summary")
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	if err := s.tracker.RequestImmediateSync(r.Context()); err != nil {
		s.logger.Warn().Err(err).Msg("Requested sync incomplete")
		writeError(w, http.StatusServiceUnavailable, "Sync incomplete, pending time will be retried")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "synced"})
}

func (s *Server) handleGetWatchlist(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, WatchlistBody{Hostnames: s.watchlist.Get()})
}

func (s *Server) handlePutWatchlist(w http.ResponseWriter, r *http.Request) {
	var body WatchlistBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := s.watchlist.Set(r.Context(), body.Hostnames); err != nil {
		s.writeWatchlistError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, WatchlistBody{Hostnames: s.watchlist.Get()})
}

func (s *Server) handleAddWatchlist(w http.ResponseWriter, r *http.Request) {
	if err := s.watchlist.Add(r.Context(), mux.Vars(r)["hostname"]); err != nil {
		s.writeWatchlistError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, WatchlistBody{Hostnames: s.watchlist.Get()})
}

func (s *Server) handleRemoveWatchlist(w http.ResponseWriter, r *http.Request) {
	if err := s.watchlist.Remove(r.Context(), mux.Vars(r)["hostname"]); err != nil {
		s.writeWatchlistError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, WatchlistBody{Hostnames: s.watchlist.Get()})
}

func (s *Server) handleToggleWatchlist(w http.ResponseWriter, r *http.Request) {
	hostname := mux.Vars(r)["hostname"]

	watched, err := s.watchlist.Toggle(r.Context(), hostname)
	if err != nil {
		s.writeWatchlistError(w, err)
		return
	}
	host, _ := usage.ResolveHostname(hostname)
	writeJSON(w, http.StatusOK, ToggleResult{Hostname: host, Watched: watched})
}

func (s *Server) writeQueryError(w http.ResponseWriter, err error) {
	if errors.Is(err, usage.ErrMalformedHostname) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.logger.Error().Err(err).Msg("Ledger query failed")
	writeError(w, http.StatusInternalServerError, "Failed to read ledger")
}

func (s *Server) writeWatchlistError(w http.ResponseWriter, err error) {
	if errors.Is(err, usage.ErrMalformedHostname) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.logger.Error().Err(err).Msg("Watchlist update failed")
	writeError(w, http.StatusInternalServerError, "Failed to update watchlist")
}
