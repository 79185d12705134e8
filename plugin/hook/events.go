package hook

import "time"

// Event names.
const (
	BattleFinished = "battle.finished"
	WarAnnounce    = "war.announce"
	WarFinished    = "war.finished"
)

// AllEvents lists every event the engines emit.
var AllEvents = []string{BattleFinished, WarAnnounce, WarFinished}

// BattleFinishedEvent is the payload of BattleFinished.
type BattleFinishedEvent struct {
	BattleID  string  `json:"battle_id"`
	Mode      string  `json:"mode"`
	Result    string  `json:"result"`
	Reason    string  `json:"reason"`
	PlayerIDs []int64 `json:"player_ids"`
	WinnerID  int64   `json:"winner_id,omitempty"`
	Rounds    int     `json:"rounds"`
	Exp       int64   `json:"exp"`
	Money     int64   `json:"money"`
}

// WarAnnounceEvent is the payload of WarAnnounce.
type WarAnnounceEvent struct {
	Slot     time.Time `json:"slot"`
	WarIDs   []int64   `json:"war_ids"`
	Kingdoms []string  `json:"kingdoms"`
}

// WarFinishedEvent is the payload of WarFinished.
type WarFinishedEvent struct {
	WarID            int64    `json:"war_id"`
	DefendingKingdom string   `json:"defending_kingdom"`
	Breached         bool     `json:"breached"`
	WinningKingdom   string   `json:"winning_kingdom,omitempty"`
	Attackers        []string `json:"attackers"`
	Loot             int64    `json:"loot"`
}
