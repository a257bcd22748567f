package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	service "github.com/okian/lootbox/internal/app"
	"github.com/okian/lootbox/internal/domain/types"
	"github.com/okian/lootbox/pkg/logger"
)

// IdempotencyKeyHeader lets a client retry POST /spin without being charged
// twice.
const IdempotencyKeyHeader = "Idempotency-Key"

type spinRequest struct {
	CustomerID string `json:"customerId"`
	BoxID      string `json:"boxId"`
}

func (r spinRequest) validate() error {
	switch {
	case strings.TrimSpace(r.CustomerID) == "":
		return errors.New("customerId is required")
	case strings.TrimSpace(r.BoxID) == "":
		return errors.New("boxId is required")
	}
	return nil
}

// SpinHandler handles spin requests.
type SpinHandler struct {
	deps   Dependencies
	logger logger.Logger
}

// NewSpinHandler creates a new spin handler.
func NewSpinHandler(deps Dependencies, log logger.Logger) *SpinHandler {
	return &SpinHandler{deps: deps, logger: log}
}

// HandleSpin handles POST /spin requests.
func (h *SpinHandler) HandleSpin(w http.ResponseWriter, r *http.Request) {
	const op = "api.spin"

	var req spinRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	out, err := h.deps.SpinBox(r.Context(), service.SpinRequest{
		CustomerID:     req.CustomerID,
		BoxID:          req.BoxID,
		IdempotencyKey: strings.TrimSpace(r.Header.Get(IdempotencyKeyHeader)),
	})
	if err != nil {
		var ice *service.InsufficientCreditsError
		switch {
		case errors.As(err, &ice):
			writeJSON(w, http.StatusBadRequest, types.InsufficientCreditsResponse{
				Error:    "insufficient credits",
				Required: ice.Required,
				Current:  ice.Current,
			})
		case errors.Is(err, service.ErrUnknownBox):
			writeError(w, http.StatusBadRequest, "unknown box: "+req.BoxID)
		case errors.Is(err, service.ErrInvalidInput):
			writeError(w, http.StatusBadRequest, "invalid input")
		case errors.Is(err, service.ErrSpinInProgress):
			writeError(w, http.StatusConflict, "spin already in progress for this idempotency key")
		case errors.Is(err, service.ErrIdempotencyConflict):
			writeError(w, http.StatusConflict, "idempotency key already used")
		default:
			writeInternal(r.Context(), w, h.logger, WrapKind(op, ErrInternal, err))
		}
		return
	}
	writeJSON(w, http.StatusOK, types.NewSpinResponse(out))
}
