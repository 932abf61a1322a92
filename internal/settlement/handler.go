package settlement

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/jfcalderon/rodarpay/internal"
	"github.com/jfcalderon/rodarpay/internal/transport"
)

type Handler struct {
	*transport.BaseHandler
	intents *IntentService
	logger  *slog.Logger
}

func NewHandler(baseHandler *transport.BaseHandler, intents *IntentService, logger *slog.Logger) *Handler {
	return &Handler{
		BaseHandler: baseHandler,
		intents:     intents,
		logger:      logger,
	}
}

// CreateIntent handles POST /payments/intent.
func (h *Handler) CreateIntent(w http.ResponseWriter, r *http.Request) {
	var req CreateIntentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("invalid intent request body", "error", err)
		h.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := req.Validate(); err != nil {
		if appErr, ok := internal.IsAppError(err); ok {
			status, body := appErr.ToHTTPResponse()
			h.WriteJSON(w, status, body)
			return
		}
		h.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	resp, err := h.intents.CreateIntent(r.Context(), req.DeviceID)
	if err != nil {
		h.logger.Error("failed to create payment intent",
			"device_id", req.DeviceID,
			"error", err)
		h.WriteError(w, http.StatusInternalServerError, "failed to create payment intent")
		return
	}

	h.WriteJSON(w, http.StatusCreated, resp)
}
