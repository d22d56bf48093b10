// ABOUTME: Tests for identity middleware and context accessors
// ABOUTME: Covers header validation, unknown users, and context round-trips

package identity

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexuschat/nexus/internal/store"
)

type mockResolver struct {
	users map[string]*store.User
	err   error
}

func (m *mockResolver) GetUser(ctx context.Context, id string) (*store.User, error) {
	if m.err != nil {
		return nil, m.err
	}
	u, ok := m.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return u, nil
}

func runMiddleware(t *testing.T, resolver UserResolver, headers map[string]string) (*httptest.ResponseRecorder, *store.User) {
	t.Helper()

	var captured *store.User
	handler := Middleware(resolver)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = UserFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/groups", nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec, captured
}

func TestMiddleware_InjectsUser(t *testing.T) {
	resolver := &mockResolver{users: map[string]*store.User{
		"u1": {ID: "u1", Name: "John Doe"},
	}}

	rec, user := runMiddleware(t, resolver, map[string]string{UserHeaderName: "u1"})

	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, user)
	assert.Equal(t, "u1", user.ID)
	assert.Equal(t, "John Doe", user.Name)
}

func TestMiddleware_MissingHeader(t *testing.T) {
	rec, user := runMiddleware(t, &mockResolver{}, nil)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Nil(t, user)
}

func TestMiddleware_UnknownUser(t *testing.T) {
	rec, user := runMiddleware(t, &mockResolver{}, map[string]string{UserHeaderName: "ghost"})

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Nil(t, user)
}

func TestMiddleware_QueryParamFallback(t *testing.T) {
	resolver := &mockResolver{users: map[string]*store.User{
		"u1": {ID: "u1", Name: "John Doe"},
	}}

	var captured *store.User
	handler := Middleware(resolver)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = UserFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/ws?userId=u1", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, captured)
	assert.Equal(t, "u1", captured.ID)
}

func TestMiddleware_StoreFailure(t *testing.T) {
	resolver := &mockResolver{err: errors.New("db closed")}

	rec, _ := runMiddleware(t, resolver, map[string]string{UserHeaderName: "u1"})

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestContextAccessors_EmptyContext(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, UserIDFromContext(ctx))
	assert.Nil(t, UserFromContext(ctx))
}

func TestWithUser_RoundTrip(t *testing.T) {
	user := &store.User{ID: "u1"}
	ctx := WithUser(context.Background(), user)

	assert.Equal(t, "u1", UserIDFromContext(ctx))
	assert.Same(t, user, UserFromContext(ctx))
}
