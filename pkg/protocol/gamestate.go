package protocol

import "encoding/json"

// StateSnapshot of the running game, pushed as update_gamestate:
//   stage, coin: numbers
//   deck_map: { [tileID]: tile code, e.g. "5m" }
//   hand/dora/replacement/wall/locked/switch_used tiles: tile id lists
//   effect_list: amulets currently held
//   goods: shop contents
//   candidate_effect_list: amulets on offer
type GameState struct {
	Stage               int               `json:"stage"`
	Coin                int               `json:"coin"`
	DeckMap             map[string]string `json:"deck_map"`
	HandTiles           []int             `json:"hand_tiles"`
	DoraTiles           []int             `json:"dora_tiles"`
	ReplacementTiles    []int             `json:"replacement_tiles"`
	WallTiles           []int             `json:"wall_tiles"`
	Ended               bool              `json:"ended"`
	DesktopRemain       int               `json:"desktop_remain"`
	LockedTiles         []int             `json:"locked_tiles"`
	SwitchUsedTiles     []int             `json:"switch_used_tiles"`
	EffectList          []Effect          `json:"effect_list,omitempty"`
	Goods               []Goods           `json:"goods,omitempty"`
	CandidateEffectList []CandidateEffect `json:"candidate_effect_list,omitempty"`
}

type BadgeAffix struct {
	ID     int      `json:"id"`
	UID    int      `json:"uid"`
	Random int      `json:"random"`
	Store  []string `json:"store"`
}

type Effect struct {
	ID     int         `json:"id"`
	UID    int         `json:"uid"`
	Volume int         `json:"volume"`
	Store  []string    `json:"store"`
	Tags   []string    `json:"tags"`
	Badge  *BadgeAffix `json:"badge,omitempty"`
}

type Goods struct {
	ID      int  `json:"id"`
	GoodsID int  `json:"goodsId"`
	Price   int  `json:"price"`
	Sold    bool `json:"sold"`
}

type CandidateEffect struct {
	ID      int `json:"id"`
	BadgeID int `json:"badgeId"`
}

// HasGame reports whether the snapshot describes a live game.
func (g GameState) HasGame() bool {
	return g.Stage >= 0 && g.DeckMap != nil
}

// DiscardPlan is one entry of a discard_recommendation push. Data is
// kept raw; its shape depends on the yaku.
type DiscardPlan struct {
	Yaku string          `json:"yaku"`
	Data json.RawMessage `json:"data"`
}
