package auth

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shrimpsizemoose/trekker/logger"
	"golang.org/x/crypto/bcrypt"

	"qlsv/internal/models"
	"qlsv/internal/session"
	"qlsv/internal/store"
)

// bcrypt ignores everything past 72 bytes, so longer inputs are truncated
// before comparison rather than rejected.
const maxPasswordBytes = 72

const bcryptCost = 10

type LoginStatus int

const (
	LoginOK LoginStatus = iota
	LoginInvalidInput
	LoginRateLimited
	LoginInvalidCredentials
	LoginError
)

type LoginResult struct {
	Status            LoginStatus
	Reason            string
	RetryAfterMinutes int
	SessionID         string
	Session           *session.Data
}

type RegisterStatus int

const (
	RegisterOK RegisterStatus = iota
	RegisterConflict
	RegisterError
)

type Authenticator struct {
	store    store.Store
	sessions session.Store
	limiter  *Limiter
	validate *validator.Validate
}

func NewAuthenticator(st store.Store, sessions session.Store, limiter *Limiter) *Authenticator {
	return &Authenticator{
		store:    st,
		sessions: sessions,
		limiter:  limiter,
		validate: validator.New(),
	}
}

// Login validates input, consults the limiter, verifies credentials and on
// success regenerates the session. Past input validation and the limiter
// gate, exactly one of RecordFailure or Clear runs per call.
func (a *Authenticator) Login(ctx context.Context, email, password, clientID, oldSessionID string) LoginResult {
	if email == "" || password == "" {
		return LoginResult{Status: LoginInvalidInput, Reason: "email and password are required"}
	}

	if err := a.validate.Var(email, "email"); err != nil {
		return LoginResult{Status: LoginInvalidInput, Reason: "please enter a valid email address"}
	}

	if allowed, remaining := a.limiter.Check(clientID); !allowed {
		minutes := int(math.Ceil(remaining.Minutes()))
		return LoginResult{Status: LoginRateLimited, RetryAfterMinutes: minutes}
	}

	account, err := a.store.GetAccountByEmail(email)
	if err != nil {
		logger.Error.Printf("Login lookup failed for client %s: %v", clientID, err)
		return LoginResult{Status: LoginError, Reason: "an error occurred during login"}
	}

	// A missing account or empty credential counts as a failed attempt
	// too, so attempt counts do not reveal whether the email exists.
	if account == nil || account.PasswordHash == "" {
		a.limiter.RecordFailure(clientID)
		return LoginResult{Status: LoginInvalidCredentials}
	}

	candidate := []byte(password)
	if len(candidate) > maxPasswordBytes {
		candidate = candidate[:maxPasswordBytes]
	}
	if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), candidate); err != nil {
		a.limiter.RecordFailure(clientID)
		return LoginResult{Status: LoginInvalidCredentials}
	}

	a.limiter.Clear(clientID)

	data := session.Data{
		UserID:       account.ID,
		Username:     account.Username,
		Email:        account.Email,
		Role:         string(account.Role),
		StudentID:    account.StudentID,
		InstructorID: account.InstructorID,
	}
	sessionID, err := a.sessions.Renew(ctx, oldSessionID, data)
	if err != nil {
		logger.Error.Printf("Session regeneration failed for account %d: %v", account.ID, err)
		return LoginResult{Status: LoginError, Reason: "session error, please try again"}
	}

	return LoginResult{Status: LoginOK, SessionID: sessionID, Session: &data}
}

// Register creates an account with a freshly hashed password. It never
// issues a session; callers log in explicitly afterwards.
func (a *Authenticator) Register(ctx context.Context, username, email, password string, role models.Role) (RegisterStatus, error) {
	existing, err := a.store.FindAccountByIdentity(email, username)
	if err != nil {
		return RegisterError, fmt.Errorf("failed to check existing accounts: %w", err)
	}
	if existing != nil {
		return RegisterConflict, nil
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return RegisterError, fmt.Errorf("failed to hash password: %w", err)
	}

	account := &models.Account{
		Username:     username,
		Email:        email,
		PasswordHash: string(hash),
		Role:         role,
	}
	if err := account.Validate(); err != nil {
		return RegisterError, fmt.Errorf("invalid registration data: %w", err)
	}

	err = a.store.CreateAccount(account)
	if err == store.ErrDuplicateAccount {
		// Lost the race against a concurrent registration; the unique
		// constraint is the arbiter.
		return RegisterConflict, nil
	}
	if err != nil {
		return RegisterError, fmt.Errorf("failed to create account: %w", err)
	}

	return RegisterOK, nil
}

// Logout destroys the session; destroying an absent session is fine.
func (a *Authenticator) Logout(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return nil
	}
	return a.sessions.Destroy(ctx, sessionID)
}

// LinkRole attaches the role-specific reference id to an account. The role
// set is closed; any value other than student or instructor is a bug in the
// caller and panics.
func (a *Authenticator) LinkRole(accountID int64, role models.Role, referenceID int64) error {
	switch role {
	case models.RoleStudent:
		return a.store.LinkStudent(accountID, referenceID)
	case models.RoleInstructor:
		return a.store.LinkInstructor(accountID, referenceID)
	default:
		panic(fmt.Sprintf("LinkRole called with invalid role %q", role))
	}
}

// Durations come from config; zero values fall back to the defaults above.
func NewLimiterFromConfig(maxAttempts int, lockoutMinutes int) *Limiter {
	return NewLimiter(maxAttempts, time.Duration(lockoutMinutes)*time.Minute)
}
