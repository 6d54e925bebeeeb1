package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/decisiontrace/lineage/internal/graph"
	"github.com/decisiontrace/lineage/internal/tiers"
)

func (s *Server) respond(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error("write response", zap.Error(err))
	}
}

type errorBody struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

// writeError maps the typed error taxonomy onto HTTP statuses. Anything
// unrecognized is a 500 and gets logged; taxonomy errors are the
// caller's problem and logged at debug only.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *graph.ValidationError
	switch {
	case errors.As(err, &verr):
		s.respond(w, http.StatusBadRequest, errorBody{Error: verr.Reason, Field: verr.Field})
	case errors.Is(err, graph.ErrNotFound):
		s.respond(w, http.StatusNotFound, errorBody{Error: "decision not found"})
	case errors.Is(err, graph.ErrConflict):
		s.respond(w, http.StatusConflict, errorBody{Error: "relationship already exists"})
	case errors.Is(err, graph.ErrTimeout):
		s.respond(w, http.StatusGatewayTimeout, errorBody{Error: "store query timed out"})
	case errors.Is(err, graph.ErrStoreUnavailable):
		s.respond(w, http.StatusServiceUnavailable, errorBody{Error: "store unavailable"})
	default:
		s.log.Error("request failed",
			zap.String("path", r.URL.Path), zap.Error(err))
		s.respond(w, http.StatusInternalServerError, errorBody{Error: "internal error"})
	}
}

// pathID parses the {id} route parameter. The route pattern already
// constrains it to digits, so failures here mean overflow.
func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		return 0, graph.NewValidation("id", "must be a decision id")
	}
	return id, nil
}

// queryInt parses an optional integer query parameter. Absent means
// fallback; present-but-garbage is a validation error.
func queryInt(r *http.Request, name string, fallback int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, graph.NewValidation(name, "must be an integer")
	}
	return n, nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	reachable := s.engine.StoreReachable(r.Context())
	status := "ok"
	code := http.StatusOK
	if !reachable {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}
	s.respond(w, code, map[string]any{
		"status":          status,
		"store_reachable": reachable,
		"version":         s.version,
		"uptime_seconds":  int64(time.Since(s.started).Seconds()),
	})
}

func (s *Server) handleRecent(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if r.URL.Query().Get("limit") != "" && limit <= 0 {
		s.writeError(w, r, graph.NewValidation("limit", "must be positive"))
		return
	}
	// Browse never propagates store errors; it degrades in-band.
	s.respond(w, http.StatusOK, s.tiers.Browse(r.Context(), limit))
}

type searchResponse struct {
	Decisions []tiers.DecisionCard `json:"decisions"`
	Count     int                  `json:"count"`
	Tier      int                  `json:"tier"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	tag := q.Get("tag")
	text := q.Get("text")
	limit, err := queryInt(r, "limit", 20)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	results, err := s.engine.Search(r.Context(), tag, text, limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	cards := make([]tiers.DecisionCard, 0, len(results))
	for _, dd := range results {
		degree := dd.Degree
		cards = append(cards, tiers.DecisionCard{
			ID:           dd.ID,
			Summary:      dd.Summary,
			Timestamp:    dd.CreatedAt,
			RelatedCount: &degree,
			Tags:         dd.Tags,
		})
	}
	s.respond(w, http.StatusOK, searchResponse{
		Decisions: cards,
		Count:     len(cards),
		Tier:      tiers.TierBrowse,
	})
}

func (s *Server) handleTypes(w http.ResponseWriter, r *http.Request) {
	types := graph.RelationTypes()
	out := make([]string, 0, len(types))
	for _, t := range types {
		out = append(out, string(t))
	}
	s.respond(w, http.StatusOK, map[string]any{
		"types":   out,
		"version": graph.RelationTypesVersion,
	})
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	sum, err := s.tiers.Summary(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, sum)
}

func (s *Server) handleNeighborhood(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	maxHops, err := queryInt(r, "max_hops", 1)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	limit, err := queryInt(r, "limit_per_hop", 10)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if limit <= 0 {
		s.writeError(w, r, graph.NewValidation("limit_per_hop", "must be positive"))
		return
	}

	res, err := s.tiers.Explore(r.Context(), id, maxHops, limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, res)
}

func (s *Server) handleContext(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.tiers.DeepContext(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, res)
}

type createDecisionRequest struct {
	Summary             string   `json:"summary" validate:"required,min=1,max=500"`
	Rationale           string   `json:"rationale" validate:"max=10000"`
	ImplementationNotes string   `json:"implementation_notes" validate:"max=10000"`
	Tags                []string `json:"tags" validate:"max=16,dive,min=1,max=64"`
}

func (s *Server) handleCreateDecision(w http.ResponseWriter, r *http.Request) {
	var req createDecisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, graph.NewValidation("body", "malformed JSON"))
		return
	}
	if err := s.validate.Struct(&req); err != nil {
		s.writeError(w, r, validationOf(err))
		return
	}

	d := &graph.Decision{
		Summary:             req.Summary,
		Rationale:           req.Rationale,
		ImplementationNotes: req.ImplementationNotes,
		Tags:                req.Tags,
	}
	if err := s.engine.CreateDecision(r.Context(), d); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.respond(w, http.StatusCreated, d)
}

type createRelationshipRequest struct {
	TargetID    int64  `json:"target_id" validate:"required,gt=0"`
	Type        string `json:"type" validate:"required"`
	Description string `json:"description" validate:"max=2000"`
}

func (s *Server) handleCreateRelationship(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	var req createRelationshipRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, graph.NewValidation("body", "malformed JSON"))
		return
	}
	if err := s.validate.Struct(&req); err != nil {
		s.writeError(w, r, validationOf(err))
		return
	}
	rt, err := graph.ParseRelationType(req.Type)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	rel := &graph.Relationship{
		SourceID:    id,
		TargetID:    req.TargetID,
		Type:        rt,
		Description: req.Description,
	}
	if err := s.engine.CreateRelationship(r.Context(), rel); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.respond(w, http.StatusCreated, rel)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.engine.DeleteDecision(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// validationOf converts the first validator field failure into our
// taxonomy so it renders the same as hand-rolled checks.
func validationOf(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		f := verrs[0]
		return graph.NewValidation(f.Field(), "failed "+f.Tag()+" validation")
	}
	return graph.NewValidation("body", err.Error())
}
