package handlers

import (
	"combat-settlement-system/services"

	"github.com/gofiber/fiber/v2"
)

func SetupWagerRoutes(app *fiber.App, wagerService *services.WagerService) {
	app.Post("/matches/:id/bets", wagerService.PlaceBet)
	app.Get("/matches/:id/pool", wagerService.GetPool)
}
