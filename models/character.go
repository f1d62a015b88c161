package models

import (
	"github.com/gosimple/slug"
)

// Character is a roster entry. The roster is static server data — clients
// select characters by slug and the server owns every stat. AttackPower
// is a percent modifier applied to base move damage.
type Character struct {
	Slug        string `json:"slug"`
	Name        string `json:"name"`
	MaxHP       int    `json:"max_hp"`
	MaxEnergy   int    `json:"max_energy"`
	AttackPower int    `json:"attack_power"`
}

var roster = []Character{
	{Name: "Brawler", MaxHP: 100, MaxEnergy: 100, AttackPower: 100},
	{Name: "Shadow Reaper", MaxHP: 90, MaxEnergy: 110, AttackPower: 110},
	{Name: "Iron Warden", MaxHP: 120, MaxEnergy: 90, AttackPower: 90},
	{Name: "Storm Caller", MaxHP: 95, MaxEnergy: 120, AttackPower: 105},
}

var rosterBySlug = map[string]Character{}

func init() {
	for i := range roster {
		roster[i].Slug = slug.Make(roster[i].Name)
		rosterBySlug[roster[i].Slug] = roster[i]
	}
}

// CharacterBySlug looks up a roster entry by its slug key.
func CharacterBySlug(s string) (Character, bool) {
	c, ok := rosterBySlug[slug.Make(s)]
	return c, ok
}

// Roster returns the full character roster.
func Roster() []Character {
	return roster
}
