package routes

import (
	"github.com/Dosada05/darts-duel/handlers"
	"github.com/Dosada05/darts-duel/middleware"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

func SetupRoutes(
	router *chi.Mux,
	jwtSecret string,
	authHandler *handlers.AuthHandler,
	userHandler *handlers.UserHandler,
	matchHandler *handlers.MatchHandler,
	webSocketHandler *handlers.WebSocketHandler,
) {
	router.Use(chiMiddleware.Logger)
	router.Use(chiMiddleware.Recoverer)
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	router.Post("/auth/signup", authHandler.Register)
	router.Post("/auth/signin", authHandler.Login)

	// Подписка на мутации одного матча; токен в query.
	router.Get("/ws/matches/{matchID}", webSocketHandler.ServeWs)

	router.Group(func(r chi.Router) {
		r.Use(middleware.Authenticate([]byte(jwtSecret)))

		r.Get("/users/me", userHandler.GetMe)
		r.Post("/users/me/avatar", userHandler.UploadAvatar)

		r.Route("/matches", func(r chi.Router) {
			r.Post("/", matchHandler.CreateChallenge)
			r.Get("/", matchHandler.ListMatches)
			r.Get("/{matchID}", matchHandler.GetMatch)
			r.Post("/{matchID}/accept", matchHandler.AcceptChallenge)
			r.Post("/{matchID}/join", matchHandler.JoinMatch)
			r.Post("/{matchID}/cancel", matchHandler.CancelMatch)
			r.Post("/{matchID}/abort", matchHandler.AbortMatch)
			r.Post("/{matchID}/expire", matchHandler.ExpireMatch)
			r.Post("/{matchID}/visits", matchHandler.SaveVisit)
			r.Get("/{matchID}/visits", matchHandler.ListVisits)
		})
	})
}
