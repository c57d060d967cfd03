package api

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/ayusman/mudra/internal/auth"
	"github.com/ayusman/mudra/internal/classifier"
	"github.com/ayusman/mudra/internal/store"
)

var testSecret = []byte("mudra-api-test-secret-32-bytes!!")

type testEnv struct {
	store  *store.Store
	tokens *auth.Tokens
	loader *recordingLoader
	router chi.Router
}

type recordingLoader struct {
	calls int
	last  []classifier.Template
}

func (l *recordingLoader) SetTemplates(templates []classifier.Template) error {
	l.calls++
	l.last = templates
	return nil
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	s, err := store.New(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	tokens, err := auth.NewTokens(testSecret, time.Hour)
	require.NoError(t, err)

	loader := &recordingLoader{}
	r := chi.NewRouter()
	r.Route("/api", func(r chi.Router) {
		NewUserHandler(s, tokens, nil).RegisterRoutes(r)
		NewTemplateHandler(s, classifier.DefaultLabels(), loader, tokens, nil).RegisterRoutes(r)
	})

	return &testEnv{store: s, tokens: tokens, loader: loader, router: r}
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

// createUser stores a user directly and returns a token for it.
func (e *testEnv) createUser(t *testing.T, email string, role store.Role) (*store.User, string) {
	t.Helper()

	hash, err := auth.HashPassword("password123")
	require.NoError(t, err)
	u := &store.User{Name: "Test", Email: email, PasswordHash: hash, Role: role}
	require.NoError(t, e.store.Users().Create(t.Context(), u))

	token, err := e.tokens.Issue(u.ID, string(u.Role))
	require.NoError(t, err)
	return u, token
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(rec.Body).Decode(v))
}
