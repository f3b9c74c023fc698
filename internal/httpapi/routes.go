package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/shanten-tools/companion/internal/envelope"
	"github.com/shanten-tools/companion/internal/peer"
	"github.com/shanten-tools/companion/internal/ws"
)

func SetupRoutes(p *peer.Peer, log *zap.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", Healthz)
	r.Get("/ws", ws.Handler(p, log))
	r.Get("/state", State(p))
	r.Post("/push/config", PushAs(p, envelope.TypeUpdateConfig))
	r.Post("/push/toast", PushAs(p, envelope.TypeUIToast))
	r.Post("/push/{type}", Push(p))
	return r
}
