package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/shanten-tools/companion/internal/envelope"
	"github.com/shanten-tools/companion/internal/peer"
)

const maxBody = 4 << 20

// pushable lists what may be injected through POST /push/{type}.
var pushable = map[string]bool{
	envelope.TypeUpdateConfig:        true,
	envelope.TypeUpdateFuseConfig:    true,
	envelope.TypeUpdateAutorunConfig: true,
	envelope.TypeAutorunStatus:       true,
	envelope.TypeUpdateRegistry:      true,
	envelope.TypeUpdateGameState:     true,
	envelope.TypeUIToast:             true,
	envelope.TypeDiscardAdvice:       true,
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

// Push broadcasts the request body as a frame of the path's type.
func Push(p *peer.Peer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		typ := chi.URLParam(r, "type")
		if !pushable[typ] {
			http.Error(w, "unknown type", http.StatusNotFound)
			return
		}
		publish(p, typ, w, r)
	}
}

// PushAs is Push with a fixed type.
func PushAs(p *peer.Peer, typ string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		publish(p, typ, w, r)
	}
}

func publish(p *peer.Peer, typ string, w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBody))
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}
	if !json.Valid(body) {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	err = p.Publish(envelope.Envelope{Type: typ, Data: body})
	switch {
	case err == nil:
		w.WriteHeader(http.StatusAccepted)
	case errors.Is(err, peer.ErrStopped):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	default:
		http.Error(w, err.Error(), http.StatusBadRequest)
	}
}

// State dumps the peer state as JSON.
func State(p *peer.Peer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		v, ok := p.Snapshot()
		if !ok {
			http.Error(w, peer.ErrStopped.Error(), http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(struct {
			Version int        `json:"version"`
			Clients int        `json:"clients"`
			State   peer.State `json:"state"`
		}{v.Version, v.NumClients, v.State})
	}
}
