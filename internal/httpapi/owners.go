package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/onchainrisk/monitor/internal/domain"
	"github.com/onchainrisk/monitor/internal/events"
)

type ownerRequest struct {
	Owner string `json:"owner"`
}

// registerOwnerHandler posts a CommandRegisterOwner for the Monitor Loop to
// pick up on its own schedule, keeping the HTTP surface from calling back
// into the loop directly.
func registerOwnerHandler(commands *events.CommandBus) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ownerRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		owner, err := domain.ParseAddress(req.Owner)
		if err != nil {
			http.Error(w, "invalid owner address", http.StatusBadRequest)
			return
		}
		commands.Post(events.Command{Type: events.CommandRegisterOwner, Owner: owner})
		commands.Post(events.Command{Type: events.CommandTriggerTick, Owner: owner})
		w.WriteHeader(http.StatusAccepted)
	}
}

// deregisterOwnerHandler posts a CommandDeregisterOwner for owner.
func deregisterOwnerHandler(commands *events.CommandBus) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw := chi.URLParam(r, "address")
		owner, err := domain.ParseAddress(raw)
		if err != nil {
			http.Error(w, "invalid owner address", http.StatusBadRequest)
			return
		}
		commands.Post(events.Command{Type: events.CommandDeregisterOwner, Owner: owner})
		w.WriteHeader(http.StatusAccepted)
	}
}
