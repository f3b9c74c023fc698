// Package ws serves the peer over websocket.
package ws

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/shanten-tools/companion/internal/envelope"
	"github.com/shanten-tools/companion/internal/peer"
)

const (
	outboxSize   = 32
	writeTimeout = 3 * time.Second
	readTimeout  = 30 * time.Second
	readLimit    = 4 << 20
)

func Handler(p *peer.Peer, log *zap.Logger) http.HandlerFunc {
	log = log.Named("ws")
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			// the desktop shell loads the UI from a custom scheme
			InsecureSkipVerify: true,
		})
		if err != nil {
			log.Debug("accept", zap.Error(err))
			return
		}
		defer conn.CloseNow()
		conn.SetReadLimit(readLimit)

		out := make(chan envelope.Envelope, outboxSize)
		clientID := uuid.NewString()
		if !p.Send(peer.Join{ClientID: clientID, Outbox: out}) {
			conn.Close(websocket.StatusGoingAway, "peer stopped")
			return
		}
		defer p.Send(peer.Leave{ClientID: clientID})
		log.Info("client connected", zap.String("client", clientID))

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		// Writer
		go func() {
			defer cancel()
			for env := range out {
				frame, err := envelope.Encode(env)
				if err != nil {
					log.Error("encode", zap.String("type", env.Type), zap.Error(err))
					continue
				}
				if err := write(ctx, conn, frame); err != nil {
					return
				}
			}
			// outbox closed: dropped for being slow, or the peer stopped
			conn.Close(websocket.StatusGoingAway, "bye")
		}()

		// Reader
		for {
			rctx, rcancel := context.WithTimeout(ctx, readTimeout)
			_, data, err := conn.Read(rctx)
			rcancel()
			if err != nil {
				switch websocket.CloseStatus(err) {
				case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				default:
					if !errors.Is(err, context.Canceled) {
						log.Debug("read", zap.String("client", clientID), zap.Error(err))
					}
				}
				log.Info("client disconnected", zap.String("client", clientID))
				return
			}

			env, err := envelope.Decode(string(data))
			if err != nil {
				reply, _ := envelope.New("error", map[string]string{"error": err.Error()})
				frame, _ := envelope.Encode(reply)
				_ = write(ctx, conn, frame)
				continue
			}
			if !p.Send(peer.FromClient{ClientID: clientID, Env: env}) {
				return
			}
		}
	}
}

func write(ctx context.Context, conn *websocket.Conn, frame string) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, []byte(frame))
}
