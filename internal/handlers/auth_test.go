package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qlsv/internal/auth"
	"qlsv/internal/session"
	"qlsv/internal/store/sqlite"
)

const testCookie = "qlsv_session"

// memSessions is an in-memory session.Store standing in for the redis
// manager.
type memSessions struct {
	mu       sync.Mutex
	sessions map[string]session.Data
	counter  int
}

func newMemSessions() *memSessions {
	return &memSessions{sessions: make(map[string]session.Data)}
}

func (m *memSessions) Renew(ctx context.Context, oldID string, data session.Data) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, oldID)
	m.counter++
	id := fmt.Sprintf("sess-test-%d", m.counter)
	m.sessions[id] = data
	return id, nil
}

func (m *memSessions) Get(ctx context.Context, id string) (*session.Data, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.sessions[id]
	if !ok {
		return nil, nil
	}
	return &data, nil
}

func (m *memSessions) Destroy(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	return nil
}

const testSchema = `
	CREATE TABLE accounts (
		account_id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT NOT NULL UNIQUE,
		email TEXT NOT NULL UNIQUE,
		password TEXT NOT NULL,
		role TEXT NOT NULL,
		student_id INTEGER,
		instructor_id INTEGER
	);
	CREATE TABLE students (
		student_id INTEGER PRIMARY KEY AUTOINCREMENT,
		full_name TEXT NOT NULL,
		date_of_birth TEXT,
		gender TEXT,
		address TEXT,
		email TEXT,
		avatar_url TEXT
	);
	CREATE TABLE classes (
		class_id INTEGER PRIMARY KEY AUTOINCREMENT,
		class_name TEXT NOT NULL,
		course_name TEXT
	);
	CREATE TABLE student_classes (
		student_id INTEGER NOT NULL,
		class_id INTEGER NOT NULL,
		PRIMARY KEY (student_id, class_id)
	);
	CREATE TABLE subjects (
		subject_id INTEGER PRIMARY KEY AUTOINCREMENT,
		subject_name TEXT NOT NULL
	);
	CREATE TABLE instructors (
		instructor_id INTEGER PRIMARY KEY AUTOINCREMENT,
		instructor_name TEXT NOT NULL
	);
	CREATE TABLE class_subjects (
		class_id INTEGER NOT NULL,
		subject_id INTEGER NOT NULL,
		instructor_id INTEGER,
		PRIMARY KEY (class_id, subject_id)
	);
	CREATE TABLE grades (
		grade_id INTEGER PRIMARY KEY AUTOINCREMENT,
		student_id INTEGER NOT NULL,
		process_score REAL,
		midterm_score REAL,
		final_score REAL
	);
	CREATE TABLE financial (
		financial_id INTEGER PRIMARY KEY AUTOINCREMENT,
		student_id INTEGER NOT NULL UNIQUE,
		amount REAL NOT NULL,
		payment_status TEXT
	);
	CREATE TABLE payment_history (
		payment_id INTEGER PRIMARY KEY AUTOINCREMENT,
		financial_id INTEGER NOT NULL,
		amount_paid REAL NOT NULL
	);`

type testEnv struct {
	mux      *http.ServeMux
	store    *sqlite.SQLiteStore
	sessions *memSessions
}

func setupTestEnv(t *testing.T) (*testEnv, func()) {
	st, err := sqlite.NewSQLiteStore(":memory:")
	require.NoError(t, err, "Failed to create store")
	// Every :memory: connection is its own database; a single connection
	// keeps concurrent requests on the same one.
	st.DB.SetMaxOpenConns(1)
	_, err = st.DB.Exec(testSchema)
	require.NoError(t, err, "Failed to create schema")

	sessions := newMemSessions()
	limiter := auth.NewLimiter(auth.DefaultMaxAttempts, auth.DefaultLockout)
	authenticator := auth.NewAuthenticator(st, sessions, limiter)

	authHandler := NewAuthHandler(authenticator, sessions, testCookie, 24*time.Hour)
	studentHandler := NewStudentHandler(st)

	protected := func(h http.HandlerFunc) http.Handler {
		return RequireSession(sessions, testCookie, h)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/auth/login", authHandler.HandleLogin)
	mux.HandleFunc("POST /api/v1/auth/register", authHandler.HandleRegister)
	mux.HandleFunc("POST /api/v1/auth/logout", authHandler.HandleLogout)
	mux.HandleFunc("POST /api/v1/auth/forgot-password", authHandler.HandleForgotPassword)
	mux.Handle("POST /api/v1/accounts/{id}/link", protected(authHandler.HandleLinkRole))
	mux.Handle("GET /api/v1/students", protected(studentHandler.HandleList))
	mux.Handle("POST /api/v1/students", protected(studentHandler.HandleCreate))
	mux.Handle("GET /api/v1/students/{id}", protected(studentHandler.HandleGet))
	mux.Handle("PUT /api/v1/students/{id}", protected(studentHandler.HandleUpdate))
	mux.Handle("DELETE /api/v1/students/{id}", protected(studentHandler.HandleDelete))

	env := &testEnv{mux: mux, store: st, sessions: sessions}
	cleanup := func() {
		require.NoError(t, st.Close())
	}
	return env, cleanup
}

func (e *testEnv) do(method, path, clientIP string, payload interface{}, cookie *http.Cookie) *httptest.ResponseRecorder {
	var body bytes.Buffer
	if payload != nil {
		_ = json.NewEncoder(&body).Encode(payload)
	}
	req := httptest.NewRequest(method, path, &body)
	if clientIP != "" {
		req.Header.Set("X-Real-IP", clientIP)
	}
	if cookie != nil {
		req.AddCookie(cookie)
	}
	w := httptest.NewRecorder()
	e.mux.ServeHTTP(w, req)
	return w
}

func (e *testEnv) register(t *testing.T, username, email, password string) {
	t.Helper()
	w := e.do("POST", "/api/v1/auth/register", "", map[string]string{
		"username": username,
		"email":    email,
		"password": password,
		"role":     "student",
	}, nil)
	require.Equal(t, http.StatusCreated, w.Code, "registration failed: %s", w.Body.String())
}

func sessionCookie(t *testing.T, w *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	res := w.Result()
	for _, c := range res.Cookies() {
		if c.Name == testCookie {
			return c
		}
	}
	t.Fatal("no session cookie in response")
	return nil
}

func TestRegisterAndConflicts(t *testing.T) {
	env, cleanup := setupTestEnv(t)
	defer cleanup()

	env.register(t, "alice", "alice@example.com", "correct-horse")

	t.Run("duplicate email different username", func(t *testing.T) {
		w := env.do("POST", "/api/v1/auth/register", "", map[string]string{
			"username": "alice2",
			"email":    "alice@example.com",
			"password": "correct-horse",
			"role":     "student",
		}, nil)
		assert.Equal(t, http.StatusConflict, w.Code)
	})

	t.Run("duplicate username different email", func(t *testing.T) {
		w := env.do("POST", "/api/v1/auth/register", "", map[string]string{
			"username": "alice",
			"email":    "alice2@example.com",
			"password": "correct-horse",
			"role":     "student",
		}, nil)
		assert.Equal(t, http.StatusConflict, w.Code)
	})

	t.Run("invalid role rejected", func(t *testing.T) {
		w := env.do("POST", "/api/v1/auth/register", "", map[string]string{
			"username": "eve",
			"email":    "eve@example.com",
			"password": "correct-horse",
			"role":     "superuser",
		}, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("registration does not create a session", func(t *testing.T) {
		w := env.do("GET", "/api/v1/students", "", nil, nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestRegisterConcurrentSameEmail(t *testing.T) {
	env, cleanup := setupTestEnv(t)
	defer cleanup()

	// Both pass the identity pre-check window; the unique constraint must
	// let exactly one through.
	codes := make(chan int, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			w := env.do("POST", "/api/v1/auth/register", "", map[string]string{
				"username": fmt.Sprintf("racer%d", n),
				"email":    "racer@example.com",
				"password": "correct-horse",
				"role":     "student",
			}, nil)
			codes <- w.Code
		}(i)
	}
	wg.Wait()
	close(codes)

	var got []int
	for code := range codes {
		got = append(got, code)
	}
	assert.ElementsMatch(t, []int{http.StatusCreated, http.StatusConflict}, got)

	var count int
	require.NoError(t, env.store.DB.Get(&count,
		"SELECT COUNT(*) FROM accounts WHERE email = ?", "racer@example.com"))
	assert.Equal(t, 1, count)
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest("POST", "/", nil)
	req.RemoteAddr = "192.0.2.10:5555"
	assert.Equal(t, "192.0.2.10", clientIP(req))

	// X-Forwarded-For is a hop list; only the first element identifies the
	// client, whatever proxy chain the request took.
	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1, 10.0.0.2")
	assert.Equal(t, "203.0.113.7", clientIP(req))

	req.Header.Set("X-Forwarded-For", "203.0.113.7")
	assert.Equal(t, "203.0.113.7", clientIP(req))

	// X-Real-IP wins over both.
	req.Header.Set("X-Real-IP", "198.51.100.4")
	assert.Equal(t, "198.51.100.4", clientIP(req))
}

func TestLoginLogoutFlow(t *testing.T) {
	env, cleanup := setupTestEnv(t)
	defer cleanup()
	env.register(t, "alice", "alice@example.com", "correct-horse")

	t.Run("wrong password", func(t *testing.T) {
		w := env.do("POST", "/api/v1/auth/login", "1.2.3.4", map[string]string{
			"email":    "alice@example.com",
			"password": "wrong-horse",
		}, nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	w := env.do("POST", "/api/v1/auth/login", "1.2.3.4", map[string]string{
		"email":    "alice@example.com",
		"password": "correct-horse",
	}, nil)
	require.Equal(t, http.StatusOK, w.Code, "login failed: %s", w.Body.String())
	cookie := sessionCookie(t, w)

	var sessionData session.Data
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sessionData))
	assert.Equal(t, "alice", sessionData.Username)
	assert.Equal(t, "student", sessionData.Role)
	assert.NotContains(t, w.Body.String(), "password")

	t.Run("session grants access", func(t *testing.T) {
		w := env.do("GET", "/api/v1/students", "", nil, cookie)
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("no session is rejected", func(t *testing.T) {
		w := env.do("GET", "/api/v1/students", "", nil, nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("logout destroys the session", func(t *testing.T) {
		w := env.do("POST", "/api/v1/auth/logout", "", nil, cookie)
		require.Equal(t, http.StatusOK, w.Code)

		w = env.do("GET", "/api/v1/students", "", nil, cookie)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("logout without a session is fine", func(t *testing.T) {
		w := env.do("POST", "/api/v1/auth/logout", "", nil, nil)
		assert.Equal(t, http.StatusOK, w.Code)
	})
}

func TestLoginRateLimiting(t *testing.T) {
	env, cleanup := setupTestEnv(t)
	defer cleanup()
	env.register(t, "alice", "alice@example.com", "correct-horse")

	for i := 0; i < auth.DefaultMaxAttempts; i++ {
		w := env.do("POST", "/api/v1/auth/login", "1.2.3.4", map[string]string{
			"email":    "alice@example.com",
			"password": "wrong-horse",
		}, nil)
		require.Equal(t, http.StatusUnauthorized, w.Code, "attempt %d", i+1)
	}

	// Locked out now, even with the correct password.
	w := env.do("POST", "/api/v1/auth/login", "1.2.3.4", map[string]string{
		"email":    "alice@example.com",
		"password": "correct-horse",
	}, nil)
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))

	var body struct {
		RetryAfterMinutes int `json:"retry_after_minutes"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 15, body.RetryAfterMinutes)

	t.Run("other clients unaffected", func(t *testing.T) {
		w := env.do("POST", "/api/v1/auth/login", "5.6.7.8", map[string]string{
			"email":    "alice@example.com",
			"password": "correct-horse",
		}, nil)
		assert.Equal(t, http.StatusOK, w.Code)
	})
}

func TestLoginMalformedEmailDoesNotCount(t *testing.T) {
	env, cleanup := setupTestEnv(t)
	defer cleanup()
	env.register(t, "alice", "alice@example.com", "correct-horse")

	for i := 0; i < auth.DefaultMaxAttempts+2; i++ {
		w := env.do("POST", "/api/v1/auth/login", "1.2.3.4", map[string]string{
			"email":    "not-an-email",
			"password": "whatever",
		}, nil)
		require.Equal(t, http.StatusBadRequest, w.Code)
	}

	// Still allowed: a wrong password now yields 401, not 429.
	w := env.do("POST", "/api/v1/auth/login", "1.2.3.4", map[string]string{
		"email":    "alice@example.com",
		"password": "wrong-horse",
	}, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestForgotPasswordStub(t *testing.T) {
	env, cleanup := setupTestEnv(t)
	defer cleanup()

	w := env.do("POST", "/api/v1/auth/forgot-password", "", nil, nil)
	assert.Equal(t, http.StatusNotImplemented, w.Code)
}

func TestStudentCRUDOverHTTP(t *testing.T) {
	env, cleanup := setupTestEnv(t)
	defer cleanup()
	env.register(t, "staff", "staff@example.com", "correct-horse")

	w := env.do("POST", "/api/v1/auth/login", "10.0.0.1", map[string]string{
		"email":    "staff@example.com",
		"password": "correct-horse",
	}, nil)
	require.Equal(t, http.StatusOK, w.Code)
	cookie := sessionCookie(t, w)

	w = env.do("POST", "/api/v1/students", "", map[string]string{
		"full_name": "Nguyen Van An",
	}, cookie)
	require.Equal(t, http.StatusCreated, w.Code, "create failed: %s", w.Body.String())

	var created struct {
		StudentID int64 `json:"student_id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	require.NotZero(t, created.StudentID)
	path := fmt.Sprintf("/api/v1/students/%d", created.StudentID)

	t.Run("get", func(t *testing.T) {
		w := env.do("GET", path, "", nil, cookie)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "Nguyen Van An")
	})

	t.Run("update", func(t *testing.T) {
		w := env.do("PUT", path, "", map[string]string{
			"full_name": "Nguyen Van Binh",
		}, cookie)
		require.Equal(t, http.StatusOK, w.Code)

		w = env.do("GET", path, "", nil, cookie)
		assert.Contains(t, w.Body.String(), "Nguyen Van Binh")
	})

	t.Run("listed in summaries", func(t *testing.T) {
		w := env.do("GET", "/api/v1/students", "", nil, cookie)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "Nguyen Van Binh")
	})

	t.Run("delete", func(t *testing.T) {
		w := env.do("DELETE", path, "", nil, cookie)
		require.Equal(t, http.StatusOK, w.Code)

		w = env.do("GET", path, "", nil, cookie)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestLinkRoleOverHTTP(t *testing.T) {
	env, cleanup := setupTestEnv(t)
	defer cleanup()
	env.register(t, "alice", "alice@example.com", "correct-horse")

	w := env.do("POST", "/api/v1/auth/login", "10.0.0.1", map[string]string{
		"email":    "alice@example.com",
		"password": "correct-horse",
	}, nil)
	require.Equal(t, http.StatusOK, w.Code)
	cookie := sessionCookie(t, w)

	account, err := env.store.GetAccountByEmail("alice@example.com")
	require.NoError(t, err)

	w = env.do("POST", fmt.Sprintf("/api/v1/accounts/%d/link", account.ID), "", map[string]interface{}{
		"role":         "student",
		"reference_id": 77,
	}, cookie)
	require.Equal(t, http.StatusOK, w.Code, "link failed: %s", w.Body.String())

	updated, err := env.store.GetAccountByEmail("alice@example.com")
	require.NoError(t, err)
	require.NotNil(t, updated.StudentID)
	assert.Equal(t, int64(77), *updated.StudentID)

	t.Run("unknown role rejected", func(t *testing.T) {
		w := env.do("POST", fmt.Sprintf("/api/v1/accounts/%d/link", account.ID), "", map[string]interface{}{
			"role":         "superuser",
			"reference_id": 1,
		}, cookie)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}
