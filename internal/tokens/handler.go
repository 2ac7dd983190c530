package tokens

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"

	"github.com/devops-roadmap/roadmap-api/internal/api"
	"github.com/devops-roadmap/roadmap-api/internal/auth"
)

// UseTokenRequest is the body of POST /tokens/use.
type UseTokenRequest struct {
	Type       string  `json:"type" validate:"required"`
	ItemID     string  `json:"item_id" validate:"required,max=200"`
	ItemTitle  string  `json:"item_title" validate:"max=300"`
	WeekNumber *int    `json:"week_number,omitempty" validate:"omitempty,min=1,max=520"`
	Reason     *string `json:"reason,omitempty" validate:"omitempty,max=1000"`
}

// AllocationResponse is the body of GET /tokens/allocation.
type AllocationResponse struct {
	*Allocation
	Remaining        map[TokenType]int `json:"remaining"`
	DaysUntilRefresh int               `json:"days_until_refresh"`
}

type Handler struct {
	svc      *Service
	validate *validator.Validate
}

func NewHandler(svc *Service) *Handler {
	return &Handler{
		svc:      svc,
		validate: validator.New(),
	}
}

// GetAllocation returns this week's allocation, provisioning it on first use.
func (h *Handler) GetAllocation(w http.ResponseWriter, r *http.Request) {
	alloc, err := h.svc.LoadAllocation(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		h.handleError(w, err)
		return
	}

	api.JSON(w, http.StatusOK, AllocationResponse{
		Allocation:       alloc,
		Remaining:        alloc.RemainingByType(),
		DaysUntilRefresh: h.svc.DaysUntilRefresh(),
	})
}

func (h *Handler) GetEligibility(w http.ResponseWriter, r *http.Request) {
	t, err := ParseTokenType(r.URL.Query().Get("type"))
	if err != nil {
		h.handleError(w, err)
		return
	}

	e, err := h.svc.CheckEligibility(r.Context(), auth.UserID(r.Context()), t)
	if err != nil {
		h.handleError(w, err)
		return
	}
	api.JSON(w, http.StatusOK, e)
}

// UseToken spends a token. Refusals carry the UseResult body with 409 for
// an exhausted quota and 429 plus Retry-After for an active cooldown.
func (h *Handler) UseToken(w http.ResponseWriter, r *http.Request) {
	var req UseTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.HandleError(w, api.ErrBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		api.HandleError(w, api.NewValidationError(err.Error()))
		return
	}

	t, err := ParseTokenType(req.Type)
	if err != nil {
		h.handleError(w, err)
		return
	}

	result, err := h.svc.UseToken(r.Context(), UseRequest{
		UserID:     auth.UserID(r.Context()),
		Type:       t,
		ItemID:     req.ItemID,
		ItemTitle:  req.ItemTitle,
		WeekNumber: req.WeekNumber,
		Reason:     req.Reason,
	})
	if err != nil {
		h.handleError(w, err)
		return
	}

	switch result.Reason {
	case "":
		api.JSON(w, http.StatusOK, result)
	case ReasonCooldownActive:
		w.Header().Set("Retry-After", strconv.Itoa(result.CooldownRemainingMinutes*60))
		api.JSON(w, http.StatusTooManyRequests, result)
	default:
		api.JSON(w, http.StatusConflict, result)
	}
}

// GetStats returns lifetime usage statistics. ?top= limits the ranked items.
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	top, ok := intParam(r, "top", 1, 50)
	if !ok {
		api.HandleError(w, api.NewBadRequestError("top must be between 1 and 50"))
		return
	}

	stats, err := h.svc.GetUsageStats(r.Context(), auth.UserID(r.Context()), top)
	if err != nil {
		h.handleError(w, err)
		return
	}
	api.JSON(w, http.StatusOK, stats)
}

// ListHistory returns the most recent resets, newest first.
func (h *Handler) ListHistory(w http.ResponseWriter, r *http.Request) {
	limit, ok := intParam(r, "limit", 1, maxHistoryLimit)
	if !ok {
		api.HandleError(w, api.NewBadRequestError("limit must be between 1 and 100"))
		return
	}

	events, err := h.svc.RecentResets(r.Context(), auth.UserID(r.Context()), limit)
	if err != nil {
		h.handleError(w, err)
		return
	}
	api.JSON(w, http.StatusOK, events)
}

func (h *Handler) handleError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotAuthenticated):
		api.HandleError(w, api.ErrUnauthorized)
	case errors.Is(err, ErrInvalidTokenType), errors.Is(err, ErrInvalidRequest):
		api.HandleError(w, api.NewBadRequestError(err.Error()))
	case IsStoreFailure(err):
		api.HandleError(w, api.ErrServiceUnavailable)
	default:
		api.HandleError(w, api.ErrInternalServer)
	}
}

// intParam reads an optional integer query parameter. Absent yields 0.
func intParam(r *http.Request, name string, lo, hi int) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < lo || n > hi {
		return 0, false
	}
	return n, true
}
