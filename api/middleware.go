/*
middleware.go - Bearer-token authentication and module gating

PURPOSE:
  Resolves the Authorization header to a Caller (identity + cached
  permission rows) and gates route groups on module access. Handlers
  downstream read the Caller from the request context and never touch
  tokens themselves.

FLOW:
  1. Extract "Bearer <token>" from Authorization
  2. IdentitySource.IdentityByToken -> 401 on unknown token
  3. PermissionSource.PermissionsForRole -> caller's permission snapshot
  4. access.NewCaller into the request context

SEE ALSO:
  - access: Caller, Filter, module ids
  - server.go: Where the middleware is mounted
*/
package api

import (
	"context"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/labworks/custody-engine/access"
)

type contextKey string

const callerKey contextKey = "caller"

// CallerFrom returns the authenticated caller stored by Authenticator.
func CallerFrom(ctx context.Context) (access.Caller, bool) {
	c, ok := ctx.Value(callerKey).(access.Caller)
	return c, ok
}

// Authenticator resolves bearer tokens into callers.
type Authenticator struct {
	Identities  access.IdentitySource
	Permissions access.PermissionSource
	Log         *zap.Logger
}

// Middleware authenticates every request passing through it.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	log := a.Log
	if log == nil {
		log = zap.NewNop()
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			writeError(w, http.StatusUnauthorized, "Missing bearer token", nil)
			return
		}

		identity, err := a.Identities.IdentityByToken(r.Context(), token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "Invalid bearer token", nil)
			return
		}

		perms, err := a.Permissions.PermissionsForRole(r.Context(), identity.RoleID)
		if err != nil {
			log.Error("failed to load permissions",
				zap.String("role_id", string(identity.RoleID)), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "Failed to load permissions", nil)
			return
		}

		caller := access.NewCaller(*identity, perms)
		ctx := context.WithValue(r.Context(), callerKey, caller)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

// RequireModule rejects callers without an active permission row for the
// module with 403.
func RequireModule(moduleID access.ModuleID) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			caller, ok := CallerFrom(r.Context())
			if !ok {
				writeError(w, http.StatusUnauthorized, "Not authenticated", nil)
				return
			}
			if !caller.HasModuleAccess(moduleID) {
				writeError(w, http.StatusForbidden, "Module access denied", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
