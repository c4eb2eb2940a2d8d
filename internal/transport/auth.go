// File: internal/transport/auth.go
package transport

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

// deviceAuth verifies the device agent's bearer token: HS256, signed with the
// shared gateway secret, subject equal to the device id in the request path.
// When no secret is configured the device routes run open (local development
// and the in-process simulator).
func (s *Server) deviceAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.DeviceJWTSecret == "" {
			next.ServeHTTP(w, r)
			return
		}

		deviceID := r.PathValue("id")
		tokenString, ok := bearerToken(r)
		if !ok {
			s.writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}

		claims := jwt.RegisteredClaims{}
		token, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
			}
			return []byte(s.cfg.DeviceJWTSecret), nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		if err != nil || !token.Valid {
			s.logger.Warn("Rejected device token", zap.String("device_id", deviceID), zap.Error(err))
			s.writeError(w, http.StatusUnauthorized, "invalid device token")
			return
		}
		if claims.Subject != deviceID {
			s.writeError(w, http.StatusForbidden,
				fmt.Sprintf("token subject %q does not match device %q", claims.Subject, deviceID))
			return
		}

		next.ServeHTTP(w, r)
	})
}

// bearerToken extracts the token from an Authorization: Bearer header.
func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", false
	}
	return strings.TrimPrefix(header, prefix), true
}

// NewDeviceToken mints a token a device agent can present to the gateway.
// Exposed for the CLI's token subcommand and for tests.
func NewDeviceToken(secret, deviceID string) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject: deviceID,
		Issuer:  "droidpilot",
	})
	return token.SignedString([]byte(secret))
}
