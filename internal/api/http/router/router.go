package router

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/contactlink/identity-server/internal/api/http/handler"
	"github.com/contactlink/identity-server/internal/api/http/middleware"
	"github.com/contactlink/identity-server/internal/logger"
)

// Router wires HTTP routes for identity reconciliation.
type Router struct {
	identityService handler.IdentityService
	pinger          handler.Pinger
	logger          *logger.Logger
}

// New creates a new Router instance.
func New(identityService handler.IdentityService, pinger handler.Pinger, logger *logger.Logger) *Router {
	return &Router{
		identityService: identityService,
		pinger:          pinger,
		logger:          logger,
	}
}

// Register registers all routes and middleware and returns the handler.
func (r *Router) Register() http.Handler {
	m := mux.NewRouter()

	logging := middleware.NewLogging(r.logger)
	m.Use(middleware.RequestID, logging.Handle)

	identifyHandler := handler.NewIdentify(r.identityService, r.logger)
	healthHandler := handler.NewHealth(r.pinger, r.logger)

	m.HandleFunc("/identify", identifyHandler.Handle).Methods(http.MethodPost)
	m.HandleFunc("/ping", healthHandler.Handle).Methods(http.MethodGet)

	return m
}
