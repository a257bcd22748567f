package api

import (
	"errors"
	"net/http"

	service "github.com/okian/lootbox/internal/app"
	"github.com/okian/lootbox/internal/domain/types"
	"github.com/okian/lootbox/pkg/logger"
)

// LedgerHandler exposes the recorded state of a spin.
type LedgerHandler struct {
	deps   Dependencies
	logger logger.Logger
}

func NewLedgerHandler(deps Dependencies, log logger.Logger) *LedgerHandler {
	return &LedgerHandler{deps: deps, logger: log}
}

// HandleLedger handles GET /ledger/{spinId} requests.
func (h *LedgerHandler) HandleLedger(w http.ResponseWriter, r *http.Request) {
	const op = "api.ledger"

	entry, err := h.deps.LedgerEntry(r.Context(), r.PathValue("spinId"))
	switch {
	case errors.Is(err, service.ErrLedgerNotFound):
		writeError(w, http.StatusNotFound, "ledger entry not found")
		return
	case errors.Is(err, service.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "spinId is required")
		return
	case err != nil:
		writeInternal(r.Context(), w, h.logger, WrapKind(op, ErrInternal, err))
		return
	}
	writeJSON(w, http.StatusOK, types.NewLedgerView(entry))
}
