package api

import (
	"net/http"

	"github.com/okian/lootbox/internal/domain/types"
)

// BoxesHandler lists the configured boxes.
type BoxesHandler struct {
	deps Dependencies
}

func NewBoxesHandler(deps Dependencies) *BoxesHandler {
	return &BoxesHandler{deps: deps}
}

// HandleBoxes handles GET /boxes requests.
func (h *BoxesHandler) HandleBoxes(w http.ResponseWriter, _ *http.Request) {
	boxes := h.deps.Boxes()
	views := make([]types.BoxView, 0, len(boxes))
	for _, b := range boxes {
		views = append(views, types.NewBoxView(b))
	}
	writeJSON(w, http.StatusOK, views)
}
