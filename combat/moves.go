package combat

// Side identifies one of the two fighters.
type Side int

const (
	SideNone Side = 0
	Side1    Side = 1
	Side2    Side = 2
)

// Other returns the opposing side.
func (s Side) Other() Side {
	switch s {
	case Side1:
		return Side2
	case Side2:
		return Side1
	}
	return SideNone
}

// MoveType is one of the fixed per-turn choices. Reject is a forfeit of
// the current scoring round, not a combat move.
type MoveType string

const (
	MovePunch   MoveType = "punch"
	MoveKick    MoveType = "kick"
	MoveBlock   MoveType = "block"
	MoveSpecial MoveType = "special"
	MoveReject  MoveType = "reject"
)

type moveSpec struct {
	Damage     int
	EnergyGain int
	EnergyCost int
}

// Fixed base damage and energy economy per move. Damage is scaled by the
// attacker's AttackPower percent before mitigation.
var moveSpecs = map[MoveType]moveSpec{
	MovePunch:   {Damage: 15, EnergyGain: 10},
	MoveKick:    {Damage: 25, EnergyGain: 5},
	MoveBlock:   {Damage: 0, EnergyGain: 15},
	MoveSpecial: {Damage: 40, EnergyCost: 50},
}

const (
	// GuardBreakThreshold is the guard meter value at which a block
	// breaks and the blocker is stunned for the next exchange.
	GuardBreakThreshold = 3

	// TurnLimit is the maximum number of exchanges in one scoring round;
	// reaching it ends the round on a health decision.
	TurnLimit = 20
)

// ValidMove reports whether m is a playable submission.
func ValidMove(m MoveType) bool {
	if m == MoveReject {
		return true
	}
	_, ok := moveSpecs[m]
	return ok
}

// WinsNeeded returns the round-win majority for a best-of-N format,
// ceil(N/2). The same threshold applies on every path a match can end by.
func WinsNeeded(format int) int {
	return format/2 + 1
}

// ValidFormat reports whether n is an accepted best-of-N value.
func ValidFormat(n int) bool {
	return n >= 1 && n%2 == 1 && n <= 9
}
