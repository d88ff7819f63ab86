package middleware

import (
	"errors"
	"net/http"
	"strings"

	pkgAuth "gameroom-service/pkg/auth"
	appErr "gameroom-service/pkg/errors"
	"gameroom-service/pkg/response"

	"github.com/gin-gonic/gin"
)

const (
	ContextUserIDKey  = "userID"
	ContextAdminIDKey = "adminID"
)

// AuthRequired admits player tokens and stores the user id.
func AuthRequired() gin.HandlerFunc {
	return scoped(pkgAuth.ParseUserToken, ContextUserIDKey)
}

// AdminAuthRequired admits operator tokens only.
func AdminAuthRequired() gin.HandlerFunc {
	return scoped(pkgAuth.ParseAdminToken, ContextAdminIDKey)
}

func scoped(parse func(string) (*pkgAuth.Claims, error), key string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := ExtractBearerToken(c.GetHeader("Authorization"))
		if err != nil {
			abortUnauthorized(c, err.Error())
			return
		}
		claims, err := parse(token)
		if err != nil {
			abortUnauthorized(c, "invalid token")
			return
		}
		c.Set(key, claims.SubjectID)
		c.Next()
	}
}

func abortUnauthorized(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, response.ErrorBody{Code: appErr.ErrUnauthorized.Code, Msg: msg})
}

func ExtractBearerToken(authHeader string) (string, error) {
	if strings.TrimSpace(authHeader) == "" {
		return "", errors.New("missing authorization header")
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", errors.New("invalid authorization header")
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", errors.New("empty bearer token")
	}
	return token, nil
}
