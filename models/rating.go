package models

// PlayerRating tracks a simple Elo figure per player. Deltas are computed
// on match completion and reported in the match-ended event.
type PlayerRating struct {
	ID       string `gorm:"primaryKey;type:uuid" json:"id"`
	PlayerID string `gorm:"uniqueIndex;not null" json:"player_id"`
	Rating   int    `gorm:"default:1000" json:"rating"`
	Wins     int    `gorm:"default:0" json:"wins"`
	Losses   int    `gorm:"default:0" json:"losses"`

	Timestamps
}
