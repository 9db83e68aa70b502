package handlers

import (
	"database/sql"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"rendiciones-service/internal/clients"
	"rendiciones-service/internal/config"
	"rendiciones-service/internal/repositories"
	"rendiciones-service/internal/services"
)

func SetupRouter(db *sql.DB, cfg *config.Config) *mux.Router {
	stateRepo := repositories.NewStateRepository(db, cfg.Pipeline.CacheMaxBytes)
	auditRepo := repositories.NewAuditRepository(db)
	docflow := clients.NewDocflowClient(cfg.Docflow.BaseURL, time.Duration(cfg.Docflow.TimeoutSeconds)*time.Second)

	rendicionService := services.NewRendicionService(
		stateRepo,
		auditRepo,
		docflow,
		cfg.Pipeline.BatchSize,
		time.Duration(cfg.Pipeline.CacheTTLSeconds)*time.Second,
	)
	rendicionHandler := NewRendicionHandler(rendicionService, auditRepo)

	router := mux.NewRouter()

	api := router.PathPrefix("/api/v1").Subrouter()

	api.Use(loggingMiddleware)
	api.Use(jsonContentTypeMiddleware)

	api.HandleFunc("/rendiciones/run", rendicionHandler.Run).Methods(http.MethodPost)
	api.HandleFunc("/rendiciones/{rendicion_id}/state", rendicionHandler.GetState).Methods(http.MethodGet)
	api.HandleFunc("/rendiciones/{rendicion_id}/reset", rendicionHandler.Reset).Methods(http.MethodPost)
	api.HandleFunc("/rendiciones/{rendicion_id}/audits", rendicionHandler.GetAudits).Methods(http.MethodGet)

	router.HandleFunc("/health", healthCheckHandler).Methods(http.MethodGet)

	return router
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Printf("%s %s %s", r.Method, r.URL.Path, time.Since(start))
	})
}

func jsonContentTypeMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

func healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	response := map[string]string{
		"status": "healthy",
	}
	respondWithJSON(w, http.StatusOK, response)
}
