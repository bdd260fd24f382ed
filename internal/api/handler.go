package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/opensource-clinical/riskcalc/internal/calculation"
	"github.com/opensource-clinical/riskcalc/internal/catalog"
	"github.com/opensource-clinical/riskcalc/internal/domain"
	"github.com/opensource-clinical/riskcalc/internal/model"
)

const (
	maxRequestBytes = 1 << 20
	maxCatalogBytes = 16 << 20

	defaultProcedureLimit = 25
	maxProcedureLimit     = 100

	// asyncTimeout bounds the wait for a worker's reply.
	asyncTimeout = 10 * time.Second
)

// Handler holds dependencies for API handlers.
type Handler struct {
	svc     *calculation.Service
	repo    domain.Repository
	cache   domain.Cache
	bus     domain.EventBus
	version string
}

// NewHandler creates a new API handler. repo, cache and bus are only pinged
// by the health check and may be nil; bus is also required for async
// calculations.
func NewHandler(svc *calculation.Service, repo domain.Repository, cache domain.Cache, bus domain.EventBus, version string) *Handler {
	return &Handler{
		svc:     svc,
		repo:    repo,
		cache:   cache,
		bus:     bus,
		version: version,
	}
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error            string            `json:"error"`
	Details          map[string]string `json:"details,omitempty"`
	MissingVariables []string          `json:"missingVariables,omitempty"`
	TraceID          string            `json:"traceId,omitempty"`
}

// ResponseMetadata accompanies calculation responses.
type ResponseMetadata struct {
	TraceID string `json:"traceId"`
	TotalMs int64  `json:"totalMs"`
	Version string `json:"version"`
	Async   bool   `json:"async,omitempty"`
}

// CalculationResponse is the response for POST /calculations.
type CalculationResponse struct {
	*domain.CalculationResult
	Metadata ResponseMetadata `json:"metadata"`
}

// Calculate handles POST /calculations. With ?async=true the request is
// handed to a worker over the event bus and the handler waits for its reply.
func (h *Handler) Calculate(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()

	var req domain.CalculationRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid JSON request body"})
		return
	}
	req.Specialty = strings.TrimSpace(req.Specialty)
	if req.Specialty == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "specialty is required"})
		return
	}

	async, _ := strconv.ParseBool(r.URL.Query().Get("async"))

	var (
		result *domain.CalculationResult
		err    error
	)
	if async {
		result, err = h.calculateAsync(ctx, &req)
	} else {
		result, err = h.svc.Calculate(ctx, &req)
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, CalculationResponse{
		CalculationResult: result,
		Metadata: ResponseMetadata{
			TraceID: GetTraceID(ctx),
			TotalMs: time.Since(start).Milliseconds(),
			Version: h.version,
			Async:   async,
		},
	})
}

// replyError carries a worker's refusal back into the handler's error mapping.
type replyError struct {
	reply *domain.CalculationReply
}

func (e *replyError) Error() string { return e.reply.Error }

func (h *Handler) calculateAsync(ctx context.Context, req *domain.CalculationRequest) (*domain.CalculationResult, error) {
	if h.bus == nil {
		return nil, errNoBus
	}

	// Unknown specialties are answered here rather than by a worker.
	snap, err := h.svc.Catalog().Snapshot()
	if err != nil {
		return nil, err
	}
	if _, err := snap.Specialty(req.Specialty); err != nil {
		return nil, err
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, asyncTimeout)
	defer cancel()

	raw, err := h.bus.Request(ctx, domain.TopicCalculationRequested, payload)
	if err != nil {
		return nil, err
	}

	var reply domain.CalculationReply
	if err := json.Unmarshal(raw, &reply); err != nil {
		return nil, err
	}
	if reply.Error != "" {
		return nil, &replyError{reply: &reply}
	}
	return reply.Result, nil
}

var errNoBus = errors.New("event bus not available")

// GetCalculation handles GET /calculations/{id}.
func (h *Handler) GetCalculation(w http.ResponseWriter, r *http.Request) {
	result, err := h.svc.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// SignRequest is the request body for POST /calculations/{id}/sign.
type SignRequest struct {
	PatientDFN string `json:"patientDfn"`
}

// Sign handles POST /calculations/{id}/sign.
func (h *Handler) Sign(w http.ResponseWriter, r *http.Request) {
	var req SignRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid JSON request body"})
		return
	}

	signed, err := h.svc.Sign(r.Context(), chi.URLParam(r, "id"), req.PatientDFN)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, signed)
}

// PatientResults handles GET /patients/{dfn}/results.
func (h *Handler) PatientResults(w http.ResponseWriter, r *http.Request) {
	results, err := h.svc.ResultsForPatient(r.Context(), chi.URLParam(r, "dfn"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if results == nil {
		results = []*domain.SignedResult{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"results": results,
		"count":   len(results),
	})
}

// SpecialtySummary lists a specialty and its models.
type SpecialtySummary struct {
	Name    string   `json:"name"`
	VistaID int      `json:"vistaId"`
	Models  []string `json:"models"`
}

// VariableGroupView is a group of a specialty's input form.
type VariableGroupView struct {
	Name         string               `json:"name"`
	DisplayOrder int                  `json:"displayOrder"`
	Variables    []domain.VariableDef `json:"variables"`
}

// SpecialtyView describes the input form of a specialty.
type SpecialtyView struct {
	SpecialtySummary
	Groups []VariableGroupView `json:"groups"`
}

func summarize(sp *catalog.Specialty) SpecialtySummary {
	names := make([]string, len(sp.Models))
	for i, m := range sp.Models {
		names[i] = m.DisplayName()
	}
	return SpecialtySummary{Name: sp.Name, VistaID: sp.VistaID, Models: names}
}

// ListSpecialties handles GET /specialties.
func (h *Handler) ListSpecialties(w http.ResponseWriter, r *http.Request) {
	snap, err := h.svc.Catalog().Snapshot()
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	specialties := snap.Specialties()
	out := make([]SpecialtySummary, len(specialties))
	for i, sp := range specialties {
		out[i] = summarize(sp)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"specialties": out,
		"count":       len(out),
		"version":     snap.Stats().Version,
	})
}

// GetSpecialty handles GET /specialties/{name}.
func (h *Handler) GetSpecialty(w http.ResponseWriter, r *http.Request) {
	snap, err := h.svc.Catalog().Snapshot()
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	sp, err := snap.Specialty(chi.URLParam(r, "name"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	defs := make(map[string]domain.VariableDef)
	for _, def := range snap.Bundle().Variables {
		defs[def.Key] = def
	}

	view := SpecialtyView{SpecialtySummary: summarize(sp)}
	for _, g := range sp.GroupedVariables() {
		gv := VariableGroupView{
			Name:         g.Group.Name,
			DisplayOrder: g.Group.DisplayOrder,
			Variables:    make([]domain.VariableDef, len(g.Variables)),
		}
		for i, v := range g.Variables {
			gv.Variables[i] = defs[v.Key()]
		}
		view.Groups = append(view.Groups, gv)
	}
	writeJSON(w, http.StatusOK, view)
}

// ModelView describes a risk model's terms.
type ModelView struct {
	Name      string     `json:"name"`
	Terms     []TermView `json:"terms"`
	Variables []string   `json:"variables"`
}

// TermView is one term of a ModelView.
type TermView struct {
	Term        string  `json:"term"`
	Coefficient float32 `json:"coefficient"`
}

// GetModel handles GET /models/{name}.
func (h *Handler) GetModel(w http.ResponseWriter, r *http.Request) {
	snap, err := h.svc.Catalog().Snapshot()
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	m, err := snap.Model(chi.URLParam(r, "name"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	view := ModelView{Name: m.DisplayName()}
	for _, t := range m.Terms() {
		view.Terms = append(view.Terms, TermView{Term: t.String(), Coefficient: t.Coefficient()})
	}
	for _, v := range m.RequiredVariables() {
		view.Variables = append(view.Variables, v.Key())
	}
	writeJSON(w, http.StatusOK, view)
}

// SearchProcedures handles GET /procedures?q=&limit=.
func (h *Handler) SearchProcedures(w http.ResponseWriter, r *http.Request) {
	snap, err := h.svc.Catalog().Snapshot()
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	limit := defaultProcedureLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "limit must be a positive integer"})
			return
		}
		limit = min(n, maxProcedureLimit)
	}

	found := snap.SearchProcedures(r.URL.Query().Get("q"), limit)
	out := make([]domain.ProcedureDef, len(found))
	for i, p := range found {
		out[i] = domain.ProcedureDef{
			CPTCode:          p.CPTCode,
			RVU:              p.RVU,
			ShortDescription: p.ShortDescription,
			LongDescription:  p.LongDescription,
			Complexity:       p.Complexity,
			Eligible:         p.Eligible,
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"procedures": out,
		"count":      len(out),
	})
}

// ReloadCatalog handles POST /catalog/reload. A YAML or JSON bundle in the
// body becomes the newest catalog version; an empty body reloads the newest
// version stored in the repository.
func (h *Handler) ReloadCatalog(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxCatalogBytes))
	if err != nil {
		writeJSON(w, http.StatusRequestEntityTooLarge, ErrorResponse{Error: "catalog too large"})
		return
	}

	var bundle *domain.CatalogBundle
	if len(bytes.TrimSpace(body)) > 0 {
		if bundle, err = catalog.Decode(bytes.NewReader(body)); err != nil {
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error()})
			return
		}
	}

	stats, err := h.svc.ReloadCatalog(r.Context(), bundle)
	if err != nil {
		if bundle != nil && !errors.Is(err, domain.ErrNotFound) {
			slog.Warn("catalog rejected", "error", err)
			writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{Error: err.Error()})
			return
		}
		h.writeError(w, r, err)
		return
	}

	slog.Info("catalog reloaded", "version", stats.Version)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "catalog reloaded successfully",
		"stats":   stats,
	})
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	status := "healthy"
	checks := map[string]string{}

	check := func(name string, ping func(context.Context) error) {
		if err := ping(ctx); err != nil {
			status = "degraded"
			checks[name] = err.Error()
			return
		}
		checks[name] = "ok"
	}
	if h.repo != nil {
		check("repository", h.repo.Ping)
	}
	if h.cache != nil {
		check("cache", h.cache.Ping)
	}
	if h.bus != nil {
		check("eventBus", h.bus.Ping)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  status,
		"version": h.version,
		"checks":  checks,
	})
}

// Ready returns whether the server is ready to accept traffic, which is once
// a catalog has been loaded.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	snap, err := h.svc.Catalog().Snapshot()
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"ready": "false",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ready":          "true",
		"catalogVersion": snap.Stats().Version,
	})
}

// writeError maps service errors onto HTTP statuses.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	resp := ErrorResponse{Error: err.Error(), TraceID: GetTraceID(r.Context())}

	var (
		inputErr   *calculation.InputErrors
		missingErr *model.MissingValuesError
		replyErr   *replyError
	)
	switch {
	case errors.As(err, &inputErr):
		resp.Error = "invalid inputs"
		resp.Details = inputErr.Errors
		writeJSON(w, http.StatusBadRequest, resp)
	case errors.As(err, &missingErr):
		resp.Error = "missing values"
		resp.MissingVariables = missingErr.Keys()
		writeJSON(w, http.StatusUnprocessableEntity, resp)
	case errors.As(err, &replyErr):
		switch {
		case len(replyErr.reply.InputErrors) > 0:
			resp.Error = "invalid inputs"
			resp.Details = replyErr.reply.InputErrors
			writeJSON(w, http.StatusBadRequest, resp)
		case len(replyErr.reply.MissingVariables) > 0:
			resp.Error = "missing values"
			resp.MissingVariables = replyErr.reply.MissingVariables
			writeJSON(w, http.StatusUnprocessableEntity, resp)
		default:
			slog.Error("async calculation failed",
				"method", r.Method,
				"path", r.URL.Path,
				"error", err,
			)
			resp.Error = "internal server error"
			writeJSON(w, http.StatusInternalServerError, resp)
		}
	case errors.Is(err, catalog.ErrUnknownSpecialty),
		errors.Is(err, catalog.ErrUnknownModel),
		errors.Is(err, domain.ErrNotFound):
		writeJSON(w, http.StatusNotFound, resp)
	case errors.Is(err, calculation.ErrAlreadySigned),
		errors.Is(err, calculation.ErrPatientMismatch):
		writeJSON(w, http.StatusConflict, resp)
	case errors.Is(err, catalog.ErrNoCatalog), errors.Is(err, errNoBus):
		writeJSON(w, http.StatusServiceUnavailable, resp)
	case errors.Is(err, context.DeadlineExceeded):
		writeJSON(w, http.StatusGatewayTimeout, resp)
	default:
		slog.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"error", err,
		)
		resp.Error = "internal server error"
		writeJSON(w, http.StatusInternalServerError, resp)
	}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
