// handlers/match.go
package handlers

import (
	"combat-settlement-system/models"
	"combat-settlement-system/services"

	"github.com/gofiber/fiber/v2"
)

func SetupMatchRoutes(app *fiber.App, matchService *services.MatchService) {
	// Match creation is the matchmaking service's hand-off; everything
	// else is player/spectator traffic relayed by the Gateway.
	app.Post("/matches", matchService.CreateMatch)
	app.Get("/matches/:id", matchService.GetMatch)
	app.Get("/matches/:id/state", matchService.GetMatchState)

	app.Post("/matches/:id/moves", matchService.SubmitMove)
	app.Post("/matches/:id/presence", matchService.Presence)

	app.Get("/characters", func(c *fiber.Ctx) error {
		return c.JSON(models.Roster())
	})
}
