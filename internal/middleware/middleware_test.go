package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"

	"github.com/pesio-ai/be-shift-reviews/internal/logger"
	"github.com/pesio-ai/be-shift-reviews/internal/service"
)

var caller = service.Actor{UID: "mgr-1", Email: "naledi@example.com", DisplayName: "Naledi Khumalo", Role: "manager"}

func TestJWTRoundTrip(t *testing.T) {
	m := NewJWTManager("secret", "shift-reviews", time.Minute)

	raw, err := m.Generate(caller)
	require.NoError(t, err)

	claims, err := m.Verify(raw)
	require.NoError(t, err)
	assert.Equal(t, caller, claims.Actor())
}

func TestJWTRejectsBadTokens(t *testing.T) {
	m := NewJWTManager("secret", "shift-reviews", time.Minute)

	other, err := NewJWTManager("other", "shift-reviews", time.Minute).Generate(caller)
	require.NoError(t, err)
	_, err = m.Verify(other)
	assert.Error(t, err)

	foreign, err := NewJWTManager("secret", "someone-else", time.Minute).Generate(caller)
	require.NoError(t, err)
	_, err = m.Verify(foreign)
	assert.Error(t, err)

	stale := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
		UID: "mgr-1",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "shift-reviews",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
	})
	signed, err := stale.SignedString([]byte("secret"))
	require.NoError(t, err)
	_, err = m.Verify(signed)
	assert.Error(t, err)

	none := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{UID: "mgr-1"})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = m.Verify(unsigned)
	assert.Error(t, err)
}

func TestAuthenticate(t *testing.T) {
	m := NewJWTManager("secret", "", time.Minute)
	raw, err := m.Generate(caller)
	require.NoError(t, err)

	var seen service.Actor
	h := Authenticate(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = ActorFromContext(r.Context())
	}))

	tests := []struct {
		name   string
		header string
		want   service.Actor
	}{
		{"valid", "Bearer " + raw, caller},
		{"lowercase scheme", "bearer " + raw, caller},
		{"missing", "", service.Actor{}},
		{"garbage", "Bearer nope", service.Actor{}},
		{"wrong scheme", "Basic " + raw, service.Actor{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = service.Actor{UID: "stale"}
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			h.ServeHTTP(httptest.NewRecorder(), req)
			assert.Equal(t, tt.want, seen)
		})
	}
}

func TestRequestID(t *testing.T) {
	var seen string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "abc")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "abc", seen)
	assert.Equal(t, "abc", rec.Header().Get(RequestIDHeader))

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotEmpty(t, seen)
	assert.NotEqual(t, "abc", seen)
}

func TestRecovery(t *testing.T) {
	h := Recovery(logger.Nop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestUnaryAuth(t *testing.T) {
	m := NewJWTManager("secret", "", time.Minute)
	raw, err := m.Generate(caller)
	require.NoError(t, err)

	handler := func(ctx context.Context, _ any) (any, error) {
		return ActorFromContext(ctx), nil
	}
	info := &grpc.UnaryServerInfo{FullMethod: "/test/Method"}

	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs("authorization", "Bearer "+raw))
	got, err := UnaryAuth(m)(ctx, nil, info, handler)
	require.NoError(t, err)
	assert.Equal(t, caller, got)

	got, err = UnaryAuth(m)(context.Background(), nil, info, handler)
	require.NoError(t, err)
	assert.Equal(t, service.Actor{}, got)
}
