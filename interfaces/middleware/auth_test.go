package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "s3cret"

func sign(t *testing.T, claims Claims, key string) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(key))
	require.NoError(t, err)
	return s
}

func authRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/me", Auth(testSecret), func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString("user_id"))
	})
	return r
}

func call(r http.Handler, header string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuth_SetsOwner(t *testing.T) {
	exp := time.Now().Add(time.Hour).Unix()
	cases := map[string]struct {
		claims Claims
		want   string
	}{
		"user_id claim": {Claims{UserID: "u1", StandardClaims: jwt.StandardClaims{ExpiresAt: exp, Issuer: "other"}}, "u1"},
		"subject":       {Claims{StandardClaims: jwt.StandardClaims{ExpiresAt: exp, Subject: "u2"}}, "u2"},
		"issuer":        {Claims{StandardClaims: jwt.StandardClaims{ExpiresAt: exp, Issuer: "u3"}}, "u3"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			w := call(authRouter(), "Bearer "+sign(t, tc.claims, testSecret))
			assert.Equal(t, http.StatusOK, w.Code)
			assert.Equal(t, tc.want, w.Body.String())
		})
	}
}

func TestAuth_Rejects(t *testing.T) {
	expired := sign(t, Claims{UserID: "u1", StandardClaims: jwt.StandardClaims{ExpiresAt: time.Now().Add(-time.Minute).Unix()}}, testSecret)
	wrongKey := sign(t, Claims{UserID: "u1"}, "other")
	noOwner := sign(t, Claims{}, testSecret)

	cases := map[string]struct {
		header string
		msg    string
	}{
		"missing header": {"", "Unauthorized"},
		"no bearer":      {"Basic abc", "Unauthorized"},
		"bare prefix":    {"Bearer ", "Unauthorized"},
		"malformed":      {"Bearer not-a-jwt", "That's not even a token"},
		"expired":        {"Bearer " + expired, "Timing is everything"},
		"wrong key":      {"Bearer " + wrongKey, "Couldn't handle this token"},
		"no owner":       {"Bearer " + noOwner, "Token has no subject"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			w := call(authRouter(), tc.header)
			assert.Equal(t, http.StatusUnauthorized, w.Code)
			assert.Contains(t, w.Body.String(), tc.msg)
		})
	}
}

func TestAuth_AcceptsSessionClaims(t *testing.T) {
	now := time.Now().UTC()
	token := sign(t, Claims{UserID: "owner-9", StandardClaims: jwt.StandardClaims{
		Subject:   "owner-9",
		IssuedAt:  now.Unix(),
		ExpiresAt: now.Add(time.Hour).Unix(),
	}}, testSecret)

	w := call(authRouter(), "Bearer "+token)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "owner-9", w.Body.String())
}
