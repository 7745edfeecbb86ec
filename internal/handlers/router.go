package handlers

import (
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"github.com/vendorportal/vendorportal/internal/config"
	"github.com/vendorportal/vendorportal/internal/middleware"
)

func NewRouter(
	cfg *config.Config,
	loginHandlers *LoginHandlers,
	sessionHandlers *SessionHandlers,
	authMiddleware *middleware.AuthMiddleware,
	logger *logrus.Logger,
) *mux.Router {
	router := mux.NewRouter()

	router.Use(middleware.CORS(cfg.Server.AllowedOrigins))
	router.Use(middleware.LoggingMiddleware(logger))

	router.HandleFunc("/health", Health).Methods("GET", "OPTIONS")

	api := router.PathPrefix("/api/v1").Subrouter()
	api.Use(middleware.SessionMiddleware(cfg.Session))

	flow := api.PathPrefix("/login/flow").Subrouter()
	flow.HandleFunc("", loginHandlers.GetFlow).Methods("GET", "OPTIONS")
	flow.HandleFunc("/send-code", loginHandlers.SendCode).Methods("POST", "OPTIONS")
	flow.HandleFunc("/code", loginHandlers.EnterCode).Methods("PUT", "OPTIONS")
	flow.HandleFunc("/verify", loginHandlers.Verify).Methods("POST", "OPTIONS")
	flow.HandleFunc("/resend", loginHandlers.Resend).Methods("POST", "OPTIONS")
	flow.HandleFunc("/change-email", loginHandlers.ChangeEmail).Methods("POST", "OPTIONS")
	flow.HandleFunc("/notice", loginHandlers.DismissNotice).Methods("DELETE", "OPTIONS")

	api.HandleFunc("/session", sessionHandlers.GetSession).Methods("GET", "OPTIONS")
	api.HandleFunc("/session/logout", sessionHandlers.Logout).Methods("POST", "OPTIONS")

	protected := api.NewRoute().Subrouter()
	protected.Use(authMiddleware.RequireAuth)
	protected.HandleFunc("/me", sessionHandlers.Me).Methods("GET", "OPTIONS")

	return router
}
