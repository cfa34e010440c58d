package httpserver

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const claimsContextKey = "session_claims"

// SessionClaims is the JWT payload the auth frontend issues. Subject is the
// external user id; Admin gates the back-office routes.
type SessionClaims struct {
	Admin bool `json:"admin"`
	jwt.RegisteredClaims
}

func sessionMiddleware(signingKey []byte, issuer string, cookieName string) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		token := bearerOrCookieToken(ctx, cookieName)
		if token == "" {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing session"))
			return
		}
		claims := &SessionClaims{}
		parsed, err := jwt.ParseWithClaims(token, claims, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
			}
			return signingKey, nil
		}, jwt.WithIssuer(issuer), jwt.WithExpirationRequired())
		if err != nil || !parsed.Valid || claims.Subject == "" {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse("unauthorized", "invalid session"))
			return
		}
		ctx.Set(claimsContextKey, claims)
		ctx.Next()
	}
}

func adminOnly() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		claims := getClaims(ctx)
		if claims == nil || !claims.Admin {
			ctx.AbortWithStatusJSON(http.StatusForbidden, errorResponse("forbidden", "admin session required"))
			return
		}
		ctx.Next()
	}
}

func bearerOrCookieToken(ctx *gin.Context, cookieName string) string {
	header := ctx.GetHeader("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	cookie, err := ctx.Cookie(cookieName)
	if err != nil {
		return ""
	}
	return cookie
}

func getClaims(ctx *gin.Context) *SessionClaims {
	claimsValue, ok := ctx.Get(claimsContextKey)
	if !ok {
		return nil
	}
	claims, _ := claimsValue.(*SessionClaims)
	return claims
}
