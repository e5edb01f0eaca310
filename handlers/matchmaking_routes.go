package handlers

import (
	"github.com/gofiber/fiber/v2"

	"squad-match-service/middleware"
	"squad-match-service/services"
)

type Services struct {
	Duel        *services.DuelService
	Squad       *services.SquadService
	Bot         *services.BotService
	Submission  *services.SubmissionService
	Stream      *services.StreamService
	JWTSecret   string
	GatewayAuth string
}

func SetupMatchmakingRoutes(app *fiber.App, s Services) {
	// 🔐 JSON routes only come through the gateway
	gateway := middleware.GatewayAuthMiddleware(s.GatewayAuth)
	caller := middleware.UserContextMiddleware()

	app.Post("/find-1v1-opponent", gateway, caller, s.Duel.HandleFindOpponent)
	app.Post("/create-1v1-match", gateway, caller, s.Duel.HandleCreateDuelMatch)
	app.Post("/match-squad", gateway, caller, s.Squad.HandleMatchSquad)
	app.Post("/create-bot-squad-match", gateway, caller, s.Bot.HandleCreateBotMatch)

	app.Get("/squads/:id", gateway, caller, s.Squad.HandleGetSquad)
	app.Post("/challenges/:challenge_id/submissions", gateway, caller, s.Submission.HandleSubmit)

	// Event streams authenticate on their own so browsers can connect with
	// a query token.
	sse := middleware.SSEAuthMiddleware(s.JWTSecret, s.GatewayAuth)
	app.Get("/squads/:id/stream", sse, s.Stream.StreamSquad)
	app.Get("/match-queue/:challenge_id/stream", sse, s.Stream.StreamQueue)
}
