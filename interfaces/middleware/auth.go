package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"intelliconn/infrastructure/logger"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt"
)

// Claims is the session token issued by the account service. The owner id
// travels in UserID, older tokens carry it in the issuer.
type Claims struct {
	UserID   string `json:"user_id,omitempty"`
	UserName string `json:"user_name,omitempty"`
	jwt.StandardClaims
}

func (c Claims) owner() string {
	if c.UserID != "" {
		return c.UserID
	}
	if c.Subject != "" {
		return c.Subject
	}
	return c.Issuer
}

type unauthorized struct {
	ResponseCode    string `json:"responseCode"`
	ResponseMessage string `json:"responseMessage"`
}

// Auth verifies the HS256 bearer token and sets "user_id" on the context.
func Auth(secretKey string) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		raw, ok := bearer(ctx.GetHeader("Authorization"))
		if !ok {
			reject(ctx, "Unauthorized")
			return
		}

		var claims Claims
		token, err := jwt.ParseWithClaims(raw, &claims, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
			}
			return []byte(secretKey), nil
		})
		if err != nil || !token.Valid {
			reject(ctx, message(err))
			return
		}
		owner := claims.owner()
		if owner == "" {
			reject(ctx, "Token has no subject")
			return
		}
		ctx.Set("user_id", owner)
		ctx.Next()
	}
}

func bearer(header string) (string, bool) {
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	return strings.TrimSpace(header[len(prefix):]), true
}

func message(err error) string {
	var ve *jwt.ValidationError
	if errors.As(err, &ve) {
		switch {
		case ve.Errors&jwt.ValidationErrorMalformed != 0:
			return "That's not even a token"
		case ve.Errors&(jwt.ValidationErrorExpired|jwt.ValidationErrorNotValidYet) != 0:
			return "Timing is everything"
		}
	}
	logger.GetLogger().WithField("error", err).Debug("rejected bearer token")
	return "Couldn't handle this token"
}

func reject(ctx *gin.Context, msg string) {
	ctx.AbortWithStatusJSON(http.StatusUnauthorized, unauthorized{ResponseCode: "401", ResponseMessage: msg})
}
