package protocol

type ItemKind string

const (
	KindAmulet ItemKind = "amulet"
	KindBadge  ItemKind = "badge"
)

type Amulet struct {
	ID     int    `json:"id"`
	IconID int    `json:"icon_id"`
	Name   string `json:"name"`
	Rarity string `json:"rarity"` // GREEN | BLUE | ORANGE | PURPLE
}

type Badge struct {
	ID     int    `json:"id"`
	IconID int    `json:"icon_id"`
	Name   string `json:"name"`
	Rarity string `json:"rarity"` // BROWN | BLUE | RED
}

// Registry is the reference data pushed as update_registry.
type Registry struct {
	Amulets []Amulet `json:"amulets"`
	Badges  []Badge  `json:"badges"`
}

type GuardList struct {
	Amulets []int `json:"amulets"`
	Badges  []int `json:"badges"`
}

// FuseConfig is the guard configuration pushed as update_fuse_config.
// Only the shape matters to the companion; the guard flags are opaque.
type FuseConfig struct {
	GuardSkipContains         GuardList `json:"guard_skip_contains"`
	EnablePrestartKaviGuard   *bool     `json:"enable_prestart_kavi_guard,omitempty"`
	ConductionMinCount        *int      `json:"conduction_min_count,omitempty"`
	EnableAntiStealEat        *bool     `json:"enable_anti_steal_eat,omitempty"`
	EnableKaviPlusBufferGuard *bool     `json:"enable_kavi_plus_buffer_guard,omitempty"`
}

func (c FuseConfig) Clone() FuseConfig {
	out := c
	out.GuardSkipContains = GuardList{
		Amulets: append([]int{}, c.GuardSkipContains.Amulets...),
		Badges:  append([]int{}, c.GuardSkipContains.Badges...),
	}
	return out
}

// Target is one automation goal. Amulet targets may carry a plus flag
// and a required badge; badge targets only an id.
type Target struct {
	Kind  ItemKind `json:"kind"`
	ID    int      `json:"id"`
	Plus  bool     `json:"plus,omitempty"`
	Badge *int     `json:"badge,omitempty"`
	Value int      `json:"value,omitempty"`
}

type EmailNotify struct {
	Enabled bool   `json:"enabled"`
	Host    string `json:"host"`
	Port    int    `json:"port"`
	SSL     bool   `json:"ssl"`
	From    string `json:"from"`
	Pass    string `json:"pass"`
	To      string `json:"to"`
}

type AutorunConfig struct {
	EndCount     int          `json:"end_count"`
	Targets      []Target     `json:"targets"`
	CutoffLevel  int          `json:"cutoff_level,omitempty"`
	OpIntervalMS int          `json:"op_interval_ms,omitempty"`
	EmailNotify  *EmailNotify `json:"email_notify,omitempty"`
}

func DefaultAutorunConfig() AutorunConfig {
	return AutorunConfig{
		EndCount:     1,
		Targets:      []Target{},
		CutoffLevel:  102,
		OpIntervalMS: 1000,
		EmailNotify:  &EmailNotify{Port: 587},
	}
}

func (c AutorunConfig) Clone() AutorunConfig {
	out := c
	out.Targets = append([]Target{}, c.Targets...)
	if c.EmailNotify != nil {
		en := *c.EmailNotify
		out.EmailNotify = &en
	}
	return out
}

type AutorunStatus struct {
	Mode               string `json:"mode,omitempty"` // continuous | step
	Running            bool   `json:"running"`
	Runs               int    `json:"runs"`
	ElapsedMS          int64  `json:"elapsed_ms"`
	BestAchievedCount  int    `json:"best_achieved_count"`
	CurrentStep        string `json:"current_step,omitempty"`
	LastError          string `json:"last_error,omitempty"`
	StartedAt          int64  `json:"started_at,omitempty"`
	GameReady          bool   `json:"game_ready"`
	HasLiveGame        bool   `json:"has_live_game"`
	GameReadyReason    string `json:"game_ready_reason,omitempty"`
	GameReadyCode      string `json:"game_ready_code,omitempty"`
	ProbeFailCount     int    `json:"probe_fail_count"`
	PreferredFlowReady bool   `json:"preferred_flow_ready,omitempty"`
	PreferredFlowPeer  string `json:"preferred_flow_peer,omitempty"`
}

func DefaultAutorunStatus() AutorunStatus {
	return AutorunStatus{
		Mode:            "continuous",
		CurrentStep:     "-",
		GameReadyReason: "not probed",
		GameReadyCode:   "NOT_PROBED",
	}
}
