package store

import (
	"go.uber.org/zap"

	"github.com/shanten-tools/companion/pkg/protocol"
)

// GameState is replaced wholesale by every update_gamestate packet.
type GameState = Value[protocol.GameState]

func NewGameState(log *zap.Logger) *GameState {
	return NewValue(protocol.GameState{}, named(log, "gamestate"))
}
