package peer

import (
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/shanten-tools/companion/internal/envelope"
	"github.com/shanten-tools/companion/pkg/protocol"
)

// State is everything the peer pushes to companions.
type State struct {
	Tables   protocol.Tables        `json:"tables"`
	Fuse     protocol.FuseConfig    `json:"fuse"`
	Autorun  protocol.AutorunConfig `json:"autorun"`
	Status   protocol.AutorunStatus `json:"status"`
	Registry protocol.Registry      `json:"registry"`
	Game     protocol.GameState     `json:"gamestate"`
}

func NewEmptyState() State {
	return State{
		Tables:  protocol.Tables{},
		Fuse:    protocol.FuseConfig{}.Clone(),
		Autorun: protocol.DefaultAutorunConfig(),
		Status:  protocol.DefaultAutorunStatus(),
		Game:    protocol.GameState{Stage: -1},
	}
}

func (s State) clone() State {
	out := s
	out.Tables = s.Tables.Clone()
	out.Fuse = s.Fuse.Clone()
	out.Autorun = s.Autorun.Clone()
	return out
}

// LoadSeed reads a YAML file shaped like State's JSON form. Missing
// sections keep NewEmptyState values.
func LoadSeed(path string) (State, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return State{}, fmt.Errorf("read seed: %w", err)
	}
	var doc map[string]any
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return State{}, fmt.Errorf("parse seed %s: %w", path, err)
	}
	// go through JSON so the protocol json tags apply
	raw, err := json.Marshal(doc)
	if err != nil {
		return State{}, fmt.Errorf("seed %s: %w", path, err)
	}
	s := NewEmptyState()
	if err := json.Unmarshal(raw, &s); err != nil {
		return State{}, fmt.Errorf("seed %s: %w", path, err)
	}
	return s, nil
}

// packet builds the snapshot envelope of the given type from s.
func (s State) packet(typ string) (envelope.Envelope, error) {
	var payload any
	switch typ {
	case envelope.TypeUpdateConfig:
		payload = s.Tables
	case envelope.TypeUpdateFuseConfig:
		payload = s.Fuse
	case envelope.TypeUpdateAutorunConfig:
		payload = s.Autorun
	case envelope.TypeAutorunStatus:
		payload = s.Status
	case envelope.TypeUpdateRegistry:
		payload = s.Registry
	case envelope.TypeUpdateGameState:
		payload = s.Game
	default:
		return envelope.Envelope{}, fmt.Errorf("%w: %s", ErrNotSnapshot, typ)
	}
	return envelope.New(typ, payload)
}

// joinOrder is what a new companion receives right after connecting.
var joinOrder = []string{
	envelope.TypeUpdateFuseConfig,
	envelope.TypeUpdateAutorunConfig,
	envelope.TypeUpdateRegistry,
	envelope.TypeUpdateConfig,
	envelope.TypeUpdateGameState,
	envelope.TypeAutorunStatus,
}

// refreshOrder answers request_update.
var refreshOrder = []string{
	envelope.TypeUpdateFuseConfig,
	envelope.TypeUpdateAutorunConfig,
	envelope.TypeUpdateConfig,
	envelope.TypeUpdateGameState,
	envelope.TypeUpdateRegistry,
}
