package main

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"principales/internal/errors"
	"principales/internal/httputil"
	"principales/internal/models"
	"principales/internal/service"
	"principales/internal/store"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/gorilla/mux"
)

const (
	defaultUpdatedBy = "Web"
	maxMensajeRunes  = 1000
)

// boardEntry is one principal as the dashboard shows it
type boardEntry struct {
	models.RealTimeStatus
	TimeAgo string `json:"timeAgo,omitempty"`
}

type boardResponse struct {
	Success     bool               `json:"success"`
	Principales map[int]boardEntry `json:"principales"`
}

type statusResponse struct {
	Success bool       `json:"success"`
	Status  boardEntry `json:"status"`
}

type putStatusRequest struct {
	Status    string `json:"status"`
	Mensaje   string `json:"mensaje"`
	UpdatedBy string `json:"updatedBy"`
}

func (r putStatusRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Status,
			validation.Required.Error("status is required"),
			validation.By(func(value interface{}) error {
				if _, ok := models.ParseStatus(value.(string)); !ok {
					return validation.NewError("validation_status", "status must be one of activo, desconectado, crm, server, none")
				}
				return nil
			}),
		),
		validation.Field(&r.Mensaje, validation.RuneLength(0, maxMensajeRunes)),
		validation.Field(&r.UpdatedBy, validation.RuneLength(0, 100)),
	)
}

type reportsResponse struct {
	Success  bool                 `json:"success"`
	Reportes []models.FieldReport `json:"reportes"`
}

type clearReportsResponse struct {
	Success bool `json:"success"`
	Cleared int  `json:"cleared"`
}

type checkinsResponse struct {
	Success bool                  `json:"success"`
	Date    string                `json:"date"`
	Entries []models.CheckinEntry `json:"entries"`
	Counts  store.CheckinCounts   `json:"counts"`
	Total   int                   `json:"total"`
}

type sendDiscordRequest struct {
	EmbedData json.RawMessage `json:"embedData"`
}

type successResponse struct {
	Success bool `json:"success"`
}

func (s *Server) entry(st models.RealTimeStatus) boardEntry {
	e := boardEntry{RealTimeStatus: st}
	if st.Timestamp != nil {
		e.TimeAgo = service.TimeAgo(*st.Timestamp, s.now())
	}
	return e
}

func principalParam(r *http.Request) (int, error) {
	n, err := strconv.Atoi(mux.Vars(r)["phone"])
	if err != nil || !store.ValidPrincipal(n) {
		return 0, errors.NewValidationError("phone", "phone must be a principal between 1 and 26")
	}
	return n, nil
}

// handleBoard returns every principal, filling the unmarked ones with status none
func (s *Server) handleBoard() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sparse, err := s.deps.Status.All(r.Context())
		if err != nil {
			httputil.WriteError(w, r, err)
			return
		}

		full := store.FullBoard(sparse)
		out := make(map[int]boardEntry, len(full))
		for n, st := range full {
			out[n] = s.entry(st)
		}
		httputil.WriteJSON(w, http.StatusOK, boardResponse{Success: true, Principales: out})
	}
}

func (s *Server) handleGetStatus() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		phone, err := principalParam(r)
		if err != nil {
			httputil.WriteError(w, r, err)
			return
		}

		st, ok, err := s.deps.Status.Get(r.Context(), phone)
		if err != nil {
			httputil.WriteError(w, r, err)
			return
		}
		if !ok {
			st = models.EmptyStatus(phone)
		}
		httputil.WriteJSON(w, http.StatusOK, statusResponse{Success: true, Status: s.entry(st)})
	}
}

// handlePutStatus upserts one principal. Status none removes the entry.
func (s *Server) handlePutStatus() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		phone, err := principalParam(r)
		if err != nil {
			httputil.WriteError(w, r, err)
			return
		}

		var req putStatusRequest
		if err := decodeJSON(w, r, &req); err != nil {
			httputil.WriteError(w, r, err)
			return
		}
		if err := req.Validate(); err != nil {
			httputil.WriteError(w, r, validationError(err))
			return
		}
		status, _ := models.ParseStatus(req.Status)

		if status == models.StatusNone {
			if _, err := s.deps.Status.Delete(r.Context(), phone); err != nil {
				httputil.WriteError(w, r, err)
				return
			}
			httputil.WriteJSON(w, http.StatusOK, statusResponse{Success: true, Status: s.entry(models.EmptyStatus(phone))})
			return
		}

		updatedBy := strings.TrimSpace(req.UpdatedBy)
		if updatedBy == "" {
			updatedBy = defaultUpdatedBy
		}
		now := s.now().UTC()
		st := models.RealTimeStatus{
			Phone:     phone,
			Status:    status,
			Mensaje:   strings.TrimSpace(req.Mensaje),
			UpdatedBy: updatedBy,
			Timestamp: &now,
		}
		if err := s.deps.Status.Set(r.Context(), st); err != nil {
			httputil.WriteError(w, r, err)
			return
		}

		s.logger.WithField(service.LogFieldPrincipal, phone).
			WithField(service.LogFieldStatus, status).
			Info("Real-time status updated from web")
		httputil.WriteJSON(w, http.StatusOK, statusResponse{Success: true, Status: s.entry(st)})
	}
}

func (s *Server) handleListReports() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		reports, err := s.deps.Reports.List(r.Context())
		if err != nil {
			httputil.WriteError(w, r, err)
			return
		}
		if reports == nil {
			reports = []models.FieldReport{}
		}
		httputil.WriteJSON(w, http.StatusOK, reportsResponse{Success: true, Reportes: reports})
	}
}

func (s *Server) handleClearReports() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n, err := s.deps.Reports.Clear(r.Context())
		if err != nil {
			httputil.WriteError(w, r, err)
			return
		}
		s.logger.WithField(service.LogFieldCount, n).Info("Field reports cleared from web")
		httputil.WriteJSON(w, http.StatusOK, clearReportsResponse{Success: true, Cleared: n})
	}
}

// handleCheckins returns one day of the check-in grid, today by default
func (s *Server) handleCheckins() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		date := r.URL.Query().Get("date")
		if date == "" {
			date = s.deps.Checkins.Today()
		} else if _, err := time.Parse(store.DateLayout, date); err != nil {
			httputil.WriteError(w, r, errors.NewValidationError("date", "date must be YYYY-MM-DD"))
			return
		}

		entries, err := s.deps.Checkins.Day(r.Context(), date)
		if err != nil {
			httputil.WriteError(w, r, err)
			return
		}
		counts := store.Counts(entries)
		httputil.WriteJSON(w, http.StatusOK, checkinsResponse{
			Success: true,
			Date:    date,
			Entries: entries,
			Counts:  counts,
			Total:   counts.Total(),
		})
	}
}

// handleSendDiscord relays a report embed built by the dashboard
func (s *Server) handleSendDiscord() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req sendDiscordRequest
		if err := decodeJSON(w, r, &req); err != nil {
			httputil.WriteError(w, r, err)
			return
		}

		if err := s.deps.Forwarder.SendEmbed(r.Context(), req.EmbedData); err != nil {
			errors.LogError(s.logger.WithField(service.LogFieldService, "discord"), err, "Failed to send report embed")
			httputil.WriteError(w, r, err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, successResponse{Success: true})
	}
}
