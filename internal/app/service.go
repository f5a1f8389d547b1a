package app

import (
	"context"
	"fmt"
	"time"

	"qlsv/internal/auth"
	"qlsv/internal/session"
	"qlsv/internal/store"
)

type Service struct {
	Config   *Config
	Store    store.Store
	Sessions *session.Manager
	Limiter  *auth.Limiter
	Auth     *auth.Authenticator
}

func NewService(configPath string) (*Service, error) {
	config, err := LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	st, err := NewStore(config.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to init store: %w", err)
	}

	sessions, err := session.NewManager(
		config.Sessions.RedisURL,
		time.Duration(config.Sessions.TTLHours)*time.Hour,
	)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("failed to init session manager: %w", err)
	}

	limiter := auth.NewLimiterFromConfig(config.Login.MaxAttempts, config.Login.LockoutMinutes)

	return &Service{
		Config:   config,
		Store:    st,
		Sessions: sessions,
		Limiter:  limiter,
		Auth:     auth.NewAuthenticator(st, sessions, limiter),
	}, nil
}

// StartBackground launches housekeeping goroutines tied to ctx.
func (s *Service) StartBackground(ctx context.Context) {
	s.Limiter.StartSweeping(ctx, time.Duration(s.Config.Login.SweepMinutes)*time.Minute)
}

func (s *Service) Close() error {
	var errs []error

	if err := s.Store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("store: %w", err))
	}
	if err := s.Sessions.Close(); err != nil {
		errs = append(errs, fmt.Errorf("sessions: %w", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors while closing: %v", errs)
	}
	return nil
}
