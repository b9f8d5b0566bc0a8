package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/npezzotti/spark-chat/internal/testutil"
)

func TestUserId(t *testing.T) {
	tcases := []struct {
		name     string
		ctx      context.Context
		userId   string
		expected bool
	}{
		{
			name:     "no user ID",
			ctx:      context.Background(),
			expected: false,
		},
		{
			name:     "empty user ID",
			ctx:      WithUserId(context.Background(), ""),
			expected: false,
		},
		{
			name:     "user ID set",
			ctx:      WithUserId(context.Background(), "u42"),
			userId:   "u42",
			expected: true,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			userId, ok := UserId(tc.ctx)
			assert.Equal(t, tc.expected, ok, "expected UserId to return %v", tc.expected)
			assert.Equal(t, tc.userId, userId, "expected UserId to return %q", tc.userId)
		})
	}
}

func Test_tokenFromRequest(t *testing.T) {
	t.Run("cookie", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.AddCookie(createJwtCookie("from-cookie", time.Hour))

		token, err := tokenFromRequest(req)
		require.NoError(t, err)
		assert.Equal(t, "from-cookie", token)
	})

	t.Run("bearer header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer from-header")

		token, err := tokenFromRequest(req)
		require.NoError(t, err)
		assert.Equal(t, "from-header", token)
	})

	t.Run("cookie wins", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.AddCookie(createJwtCookie("from-cookie", time.Hour))
		req.Header.Set("Authorization", "Bearer from-header")

		token, err := tokenFromRequest(req)
		require.NoError(t, err)
		assert.Equal(t, "from-cookie", token)
	})

	t.Run("missing", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Basic dTpw")

		_, err := tokenFromRequest(req)
		assert.Error(t, err)
	})
}

func Test_extractUserIdFromToken(t *testing.T) {
	app := &App{log: testutil.TestLogger(t), signingKey: []byte("test-signing-key")}

	t.Run("valid token", func(t *testing.T) {
		token, err := app.createJwtForSession("u1", defaultJwtExpiration)
		require.NoError(t, err)

		userId, err := app.extractUserIdFromToken(token)
		require.NoError(t, err)
		assert.Equal(t, "u1", userId)
	})

	t.Run("expired token", func(t *testing.T) {
		token, err := app.createJwtForSession("u1", -time.Minute)
		require.NoError(t, err)

		_, err = app.extractUserIdFromToken(token)
		assert.Error(t, err)
	})

	t.Run("wrong key", func(t *testing.T) {
		other := &App{signingKey: []byte("other-key")}
		token, err := other.createJwtForSession("u1", defaultJwtExpiration)
		require.NoError(t, err)

		_, err = app.extractUserIdFromToken(token)
		assert.Error(t, err)
	})

	t.Run("numeric user id claim", func(t *testing.T) {
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
			userIdClaim: 1,
			expClaim:    time.Now().Add(time.Hour).Unix(),
		}).SignedString(app.signingKey)
		require.NoError(t, err)

		_, err = app.extractUserIdFromToken(token)
		assert.Error(t, err)
	})

	t.Run("unsigned token", func(t *testing.T) {
		token, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{
			userIdClaim: "u1",
		}).SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)

		_, err = app.extractUserIdFromToken(token)
		assert.Error(t, err)
	})
}
