// Package protocol holds the payload shapes exchanged with the backend
// over the companion websocket. Every frame is {"type": ..., "data": ...}.
package protocol

// Backend -> Companion
// update_config:          Tables (table -> key -> scalar)
// update_registry:        Registry
// update_fuse_config:     FuseConfig
// update_autorun_config:  AutorunConfig
// autorun_status:         AutorunStatus
// update_gamestate:       GameState
// open_result:            OpenResult
// ui_toast:               Toast
// autorun_control_result: ControlResult
// keep_alive:             {}
//
// Companion -> Backend
// keep_alive:      {}
// edit_config:     Tables | {"fuse": FuseConfig} | {"autorun": AutorunConfig}
// request_update:  {}
// open_config_dir: {}
// autorun_control: AutorunControl

type OpenResult struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

type ToastKind string

const (
	ToastInfo    ToastKind = "info"
	ToastSuccess ToastKind = "success"
	ToastError   ToastKind = "error"
)

type Toast struct {
	Msg      string    `json:"msg"`
	Kind     ToastKind `json:"kind,omitempty"`
	Duration int       `json:"duration,omitempty"` // milliseconds
}

// AutorunControl actions understood by the backend.
const (
	ActionStart           = "start"
	ActionStop            = "stop"
	ActionProbe           = "probe"
	ActionStep            = "step"
	ActionSetMode         = "set_mode"
	ActionNotifyTestEmail = "notify_test_email"
)

type AutorunControl struct {
	Action string `json:"action"`
	Mode   string `json:"mode,omitempty"`
}

type ControlResult struct {
	OK     bool   `json:"ok"`
	Reason string `json:"reason,omitempty"`
}

// EditFuse and EditAutorun are the scoped edit_config payloads.
type EditFuse struct {
	Fuse FuseConfig `json:"fuse"`
}

type EditAutorun struct {
	Autorun AutorunConfig `json:"autorun"`
}
