package main

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shrimpsizemoose/trekker/logger"

	"qlsv/internal/app"
	"qlsv/internal/handlers"
)

func main() {
	service, err := app.NewService("config.toml")
	if err != nil {
		logger.Error.Fatalf("Failed to start service: %v", err)
	}
	defer service.Close()

	if err := service.Store.ApplyMigrations(service.Config.Database.MigrationsDir); err != nil {
		logger.Error.Fatalf("Failed to apply migrations: %v", err)
	}

	service.StartBackground(context.Background())

	cookieName := service.Config.Sessions.CookieName
	cookieTTL := time.Duration(service.Config.Sessions.TTLHours) * time.Hour

	authHandler := handlers.NewAuthHandler(service.Auth, service.Sessions, cookieName, cookieTTL)
	studentHandler := handlers.NewStudentHandler(service.Store)

	protected := func(h http.HandlerFunc) http.Handler {
		return handlers.RequireSession(service.Sessions, cookieName, h)
	}

	http.HandleFunc("POST /api/v1/auth/login", authHandler.HandleLogin)
	http.HandleFunc("POST /api/v1/auth/register", authHandler.HandleRegister)
	http.HandleFunc("POST /api/v1/auth/logout", authHandler.HandleLogout)
	http.HandleFunc("POST /api/v1/auth/forgot-password", authHandler.HandleForgotPassword)
	http.Handle("POST /api/v1/accounts/{id}/link", protected(authHandler.HandleLinkRole))

	http.Handle("GET /api/v1/students", protected(studentHandler.HandleList))
	http.Handle("POST /api/v1/students", protected(studentHandler.HandleCreate))
	http.Handle("GET /api/v1/students/{id}", protected(studentHandler.HandleGet))
	http.Handle("PUT /api/v1/students/{id}", protected(studentHandler.HandleUpdate))
	http.Handle("DELETE /api/v1/students/{id}", protected(studentHandler.HandleDelete))

	http.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 800*time.Millisecond)
		defer cancel()
		if err := service.Store.Ping(ctx); err != nil {
			http.Error(w, "db not ok: "+err.Error(), http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("ok"))
	})

	http.Handle("/metrics", promhttp.Handler())

	logger.Info.Printf("Starting qlsv server on %s", service.Config.Server.Port)
	if err := http.ListenAndServe(service.Config.Server.Port, nil); err != nil {
		logger.Error.Fatalf("qlsv server failed: %v", err)
	}
}
