package core

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"carewatch/internal/types"
)

// Alternative credential headers for callers that cannot set Authorization.
const (
	CronSecretHeader = "X-Cron-Secret"
	AdminKeyHeader   = "X-Admin-Key"
)

// RequireCronSecret guards the monitoring trigger. The secret travels as
// "Authorization: Bearer <secret>" or in X-Cron-Secret and is checked
// against CRON_SECRET (constant time) or CRON_SECRET_HASH (bcrypt).
//
// With neither configured the route is open in the local environment and
// closed everywhere else.
func (s *Server) RequireCronSecret(next http.Handler) http.Handler {
	mon := s.Config.Monitoring
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !mon.CronSecret.IsSet() && !mon.CronSecretHash.IsSet() {
			if s.Config.IsLocal() {
				next.ServeHTTP(w, r)
				return
			}
			s.Logger.Error("cron secret is not configured; rejecting trigger",
				slog.String("path", r.URL.Path),
			)
			s.writeAuthError(w, r, types.ErrCodeAuthCronSecretInvalid, "cron secret is not configured")
			return
		}

		presented := credential(r, CronSecretHeader)
		if presented == "" {
			s.writeAuthError(w, r, types.ErrCodeAuthCronSecretMissing, "cron secret is required")
			return
		}

		if !cronSecretMatches(mon.CronSecret, mon.CronSecretHash, presented) {
			s.Logger.Warn("cron secret rejected",
				slog.String("path", r.URL.Path),
				slog.String("ip", s.clientIP(r)),
			)
			s.writeAuthError(w, r, types.ErrCodeAuthCronSecretInvalid, "cron secret is invalid")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func cronSecretMatches(secret, hash types.SecretString, presented string) bool {
	if secret.IsSet() && secureEqual(secret.Unmask(), presented) {
		return true
	}
	if hash.IsSet() && bcrypt.CompareHashAndPassword([]byte(hash.Unmask()), []byte(presented)) == nil {
		return true
	}
	return false
}

// RequireAdminKey guards the staff read endpoints with ADMIN_API_KEY. An
// unset key closes them.
func (s *Server) RequireAdminKey(next http.Handler) http.Handler {
	key := s.Config.Security.AdminAPIKey
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		presented := credential(r, AdminKeyHeader)
		if !key.IsSet() || presented == "" || !secureEqual(key.Unmask(), presented) {
			s.writeAuthError(w, r, types.ErrCodeAuthAdminKeyInvalid, "a valid admin API key is required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// credential returns the Bearer token, falling back to header.
func credential(r *http.Request, header string) string {
	if token := extractBearerToken(r.Header.Get("Authorization")); token != "" {
		return token
	}
	return strings.TrimSpace(r.Header.Get(header))
}

func secureEqual(want, got string) bool {
	return subtle.ConstantTimeCompare([]byte(want), []byte(got)) == 1
}

// extractBearerToken parses "Bearer <token>" (case-insensitive scheme per
// RFC 7235). Returns empty string if the format is invalid.
func extractBearerToken(authHeader string) string {
	const prefix = "Bearer "
	if len(authHeader) < len(prefix) {
		return ""
	}
	if !strings.EqualFold(authHeader[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(authHeader[len(prefix):])
}

// writeAuthError writes a 401 Unauthorized JSON response with the given error code.
func (s *Server) writeAuthError(w http.ResponseWriter, r *http.Request, code types.ErrorCode, message string) {
	JSON(w, r, http.StatusUnauthorized, APIErrorResponse{
		Error: ErrorDetail{
			Code:      string(code),
			Message:   message,
			RequestID: types.GetRequestID(r.Context()),
		},
	})
}
