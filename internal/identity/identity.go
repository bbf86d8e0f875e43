// Package identity resolves the calling employee and guards cron endpoints.
package identity

import (
	"context"
	"crypto/subtle"
	"net"
	"net/http"
	"regexp"
	"strings"

	"github.com/ashureev/dotcheck/internal/domain"
)

const (
	EmployeeHeaderName = "X-Employee-ID"
	CronHeaderName     = "X-Cron-Secret"
	employeeQueryParam = "employee_id"
)

type contextKey int

const (
	employeeIDKey contextKey = iota
	organizationIDKey
)

var employeeIDPattern = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)

// EmployeeLookup is the storage the middleware needs.
type EmployeeLookup interface {
	GetEmployee(ctx context.Context, employeeID string) (*domain.Employee, error)
}

// EmployeeIDFromContext extracts the employee ID from the request context.
func EmployeeIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(employeeIDKey).(string); ok {
		return v
	}
	return ""
}

// OrganizationIDFromContext extracts the caller's organization ID.
func OrganizationIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(organizationIDKey).(string); ok {
		return v
	}
	return ""
}

// WithEmployee returns a context carrying the employee identity.
func WithEmployee(ctx context.Context, emp *domain.Employee) context.Context {
	ctx = context.WithValue(ctx, employeeIDKey, emp.ID)
	return context.WithValue(ctx, organizationIDKey, emp.OrganizationID)
}

func employeeIDFromRequest(r *http.Request) string {
	id := strings.TrimSpace(r.Header.Get(EmployeeHeaderName))
	if id == "" {
		// Browsers cannot set headers on websocket upgrades.
		id = strings.TrimSpace(r.URL.Query().Get(employeeQueryParam))
	}
	if !employeeIDPattern.MatchString(id) {
		return ""
	}
	return id
}

// Middleware resolves the calling employee and rejects unknown or inactive
// members with 401.
func Middleware(repo EmployeeLookup) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := employeeIDFromRequest(r)
			if id == "" {
				http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
				return
			}

			emp, err := repo.GetEmployee(r.Context(), id)
			if err != nil {
				http.Error(w, `{"error":"failed to resolve employee"}`, http.StatusInternalServerError)
				return
			}
			if emp == nil || !emp.IsActive() {
				http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithEmployee(r.Context(), emp)))
		})
	}
}

// CronAuth accepts requests carrying the shared secret either in the
// X-Cron-Secret header or as a bearer token. An empty secret rejects all.
func CronAuth(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.Header.Get(CronHeaderName)
			if got == "" {
				got = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			}
			if secret == "" || subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
				http.Error(w, `{"error":"forbidden"}`, http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// IPFromRequest returns a normalized remote IP for optional request tracing.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
