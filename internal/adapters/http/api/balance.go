package api

import (
	"errors"
	"net/http"

	service "github.com/okian/lootbox/internal/app"
	"github.com/okian/lootbox/internal/domain/types"
	"github.com/okian/lootbox/pkg/logger"
)

// BalanceHandler reads a customer's credits.
type BalanceHandler struct {
	deps   Dependencies
	logger logger.Logger
}

func NewBalanceHandler(deps Dependencies, log logger.Logger) *BalanceHandler {
	return &BalanceHandler{deps: deps, logger: log}
}

// HandleBalance handles GET /balance/{customerId} requests.
func (h *BalanceHandler) HandleBalance(w http.ResponseWriter, r *http.Request) {
	const op = "api.balance"
	customerID := r.PathValue("customerId")

	credits, err := h.deps.Balance(r.Context(), customerID)
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "customerId is required")
		return
	case err != nil:
		writeInternal(r.Context(), w, h.logger, WrapKind(op, ErrInternal, err))
		return
	}
	writeJSON(w, http.StatusOK, types.BalanceResponse{CustomerID: customerID, Credits: credits})
}
