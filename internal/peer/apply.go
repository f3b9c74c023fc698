package peer

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shanten-tools/companion/internal/envelope"
	"github.com/shanten-tools/companion/pkg/protocol"
)

var (
	ErrBadEdit       = errors.New("edit_config payload must be an object")
	ErrNotSnapshot   = errors.New("not a snapshot type")
	ErrUnknownAction = errors.New("unknown autorun action")
	ErrBadMode       = errors.New("mode must be continuous or step")
)

// ApplyEdit applies an edit_config payload and returns the snapshot
// types that must be rebroadcast. Only keys that already exist in a
// table are written; unknown tables and keys are ignored, as are
// non-scalar values. s is not modified.
func ApplyEdit(s State, data json.RawMessage) ([]string, State, error) {
	var edit map[string]json.RawMessage
	if err := json.Unmarshal(data, &edit); err != nil || edit == nil {
		return nil, s, ErrBadEdit
	}
	next := s.clone()
	var changed []string

	if raw, ok := edit["autorun"]; ok {
		cfg := next.Autorun.Clone()
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return nil, s, fmt.Errorf("autorun: %w", err)
		}
		next.Autorun = cfg
		changed = append(changed, envelope.TypeUpdateAutorunConfig, envelope.TypeAutorunStatus)
		delete(edit, "autorun")
	}
	if raw, ok := edit["fuse"]; ok {
		cfg := next.Fuse.Clone()
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return nil, s, fmt.Errorf("fuse: %w", err)
		}
		next.Fuse = cfg
		changed = append(changed, envelope.TypeUpdateFuseConfig)
		delete(edit, "fuse")
	}

	for name, raw := range edit {
		table, ok := next.Tables[name]
		if !ok {
			continue
		}
		var patch map[string]any
		if err := json.Unmarshal(raw, &patch); err != nil {
			continue
		}
		for k, v := range patch {
			if _, ok := table[k]; !ok {
				continue
			}
			if sv, err := protocol.Scalar(v); err == nil {
				table[k] = sv
			}
		}
	}
	// the backend always answers an edit with the settings tables
	changed = append(changed, envelope.TypeUpdateConfig)
	return changed, next, nil
}

// ApplyControl runs an autorun_control request against s. The peer has
// no game to drive, so it only moves the status the way a real runner
// would report it.
func ApplyControl(s State, ctl protocol.AutorunControl, now time.Time) (protocol.ControlResult, State, error) {
	next := s.clone()
	st := &next.Status
	switch ctl.Action {
	case protocol.ActionStart:
		if !st.GameReady {
			return protocol.ControlResult{Reason: "GAME_NOT_READY"}, s, nil
		}
		st.Running = true
		st.Runs++
		st.StartedAt = now.UnixMilli()
		st.CurrentStep = "start"
		st.LastError = ""
	case protocol.ActionStop:
		st.Running = false
		st.CurrentStep = "-"
	case protocol.ActionSetMode:
		if ctl.Mode != "continuous" && ctl.Mode != "step" {
			return protocol.ControlResult{}, s, fmt.Errorf("%w: %q", ErrBadMode, ctl.Mode)
		}
		st.Mode = ctl.Mode
	case protocol.ActionStep:
		if !st.GameReady {
			return protocol.ControlResult{Reason: "GAME_NOT_READY"}, s, nil
		}
		st.CurrentStep = "step"
	case protocol.ActionProbe:
		st.GameReady = true
		st.HasLiveGame = next.Game.HasGame()
		st.GameReadyCode = ""
		st.GameReadyReason = "ready"
		st.ProbeFailCount = 0
	case protocol.ActionNotifyTestEmail:
		if next.Autorun.EmailNotify == nil || !next.Autorun.EmailNotify.Enabled {
			return protocol.ControlResult{Reason: "email notify disabled"}, s, nil
		}
	default:
		return protocol.ControlResult{}, s, fmt.Errorf("%w: %q", ErrUnknownAction, ctl.Action)
	}
	return protocol.ControlResult{OK: true}, next, nil
}

// ApplyPush replaces the part of s an externally pushed snapshot
// covers. Envelopes that are not snapshots leave s as is.
func ApplyPush(s State, env envelope.Envelope) (State, error) {
	next := s.clone()
	var err error
	switch env.Type {
	case envelope.TypeUpdateConfig:
		var ts protocol.Tables
		err = env.Bind(&ts)
		next.Tables = ts
	case envelope.TypeUpdateFuseConfig:
		var cfg protocol.FuseConfig
		err = env.Bind(&cfg)
		next.Fuse = cfg
	case envelope.TypeUpdateAutorunConfig:
		cfg := protocol.DefaultAutorunConfig()
		err = env.Bind(&cfg)
		next.Autorun = cfg
	case envelope.TypeAutorunStatus:
		st := protocol.DefaultAutorunStatus()
		err = env.Bind(&st)
		next.Status = st
	case envelope.TypeUpdateRegistry:
		var reg protocol.Registry
		err = env.Bind(&reg)
		next.Registry = reg
	case envelope.TypeUpdateGameState:
		var g protocol.GameState
		err = env.Bind(&g)
		next.Game = g
	default:
		return s, nil
	}
	if err != nil {
		return s, fmt.Errorf("%s: %w", env.Type, err)
	}
	return next, nil
}
