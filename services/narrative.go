package services

import (
	"fmt"

	"combat-settlement-system/combat"
	"combat-settlement-system/models"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var titler = cases.Title(language.English)

// buildNarrative renders the short fight-caption lines carried on the
// round-resolved event. Flavor only — nothing downstream parses these.
func buildNarrative(round *models.Round, result *combat.TurnResult) []string {
	var lines []string

	p1 := combat.MoveType(*round.Player1Move)
	p2 := combat.MoveType(*round.Player2Move)

	if p1 == combat.MoveReject || p2 == combat.MoveReject {
		switch {
		case p1 == combat.MoveReject && p2 == combat.MoveReject:
			lines = append(lines, "Both fighters refuse to engage — the round is void.")
		case p1 == combat.MoveReject:
			lines = append(lines, "Player 1 refuses the exchange and forfeits the round.")
		default:
			lines = append(lines, "Player 2 refuses the exchange and forfeits the round.")
		}
		return lines
	}

	if round.Player1Forced {
		lines = append(lines, "Player 1 is staggered and can only cover up.")
	}
	if round.Player2Forced {
		lines = append(lines, "Player 2 is staggered and can only cover up.")
	}

	lines = append(lines, attackLine(1, p1, result.P2Damage))
	lines = append(lines, attackLine(2, p2, result.P1Damage))

	if result.P1Stunned {
		lines = append(lines, "Player 1's guard shatters!")
	}
	if result.P2Stunned {
		lines = append(lines, "Player 2's guard shatters!")
	}

	switch result.RoundEndReason {
	case combat.RoundEndKnockout:
		lines = append(lines, "Knockout!")
	case combat.RoundEndDecision:
		lines = append(lines, "The round goes to a decision.")
	}
	return lines
}

func attackLine(side int, move combat.MoveType, damageDealt int) string {
	name := titler.String(string(move))
	if move == combat.MoveBlock {
		return fmt.Sprintf("Player %d holds a guard.", side)
	}
	if damageDealt == 0 {
		return fmt.Sprintf("Player %d's %s is stopped cold.", side, name)
	}
	return fmt.Sprintf("Player %d's %s lands for %d damage.", side, name, damageDealt)
}
