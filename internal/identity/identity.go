// Package identity resolves a verified caller identity and derives the
// server-side role and scheduling priority from it. Client-declared role
// fields are never consulted.
package identity

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/clusterchat/operator/internal/store"
	"github.com/clusterchat/operator/pkg/model"
)

// defaultFreeQuotaLimit is the limit NewGate falls back to when given a
// non-positive quotaLimit. The configured limit is injected at construction
// time so tests can exercise small limits without touching the environment.
const defaultFreeQuotaLimit = 3

// Authenticator extracts the provider-verified subject and role claim from
// an inbound request. It is the seam at which a real external identity
// provider plugs in; this package never defines how the token was minted.
type Authenticator interface {
	Authenticate(r *http.Request) (subject string, roleClaim string, err error)
}

// HeaderAuthenticator reads a Bearer token from authHeader as the opaque
// subject, and X-Role-Claim (set only by a trusted reverse proxy) as the
// role claim.
type HeaderAuthenticator struct {
	// HeaderName is the header carrying the bearer token, usually
	// "Authorization".
	HeaderName string
}

// NewHeaderAuthenticator creates a HeaderAuthenticator reading from headerName.
func NewHeaderAuthenticator(headerName string) *HeaderAuthenticator {
	return &HeaderAuthenticator{HeaderName: headerName}
}

// ErrMissingCredentials is returned when the request carries no bearer token.
var ErrMissingCredentials = fmt.Errorf("identity: missing bearer credentials")

// Authenticate implements Authenticator.
func (a *HeaderAuthenticator) Authenticate(r *http.Request) (string, string, error) {
	raw := r.Header.Get(a.HeaderName)
	const prefix = "Bearer "
	if !strings.HasPrefix(raw, prefix) || len(raw) == len(prefix) {
		return "", "", ErrMissingCredentials
	}
	subject := strings.TrimPrefix(raw, prefix)
	roleClaim := r.Header.Get("X-Role-Claim")
	return subject, roleClaim, nil
}

// Gate resolves identities, derives priority, and tracks per-user FREE-tier
// quota. store.TypedStore's own mutex only protects the map itself; it does
// not make a Get-mutate-Set sequence on the *model.QuotaState it returns
// atomic, since two callers can Get the same pointer and both mutate it
// before either Sets it back. Gate therefore holds its own mutex across
// every quota read and write, so check-then-increment is a single critical
// section per user regardless of how many goroutines call in concurrently.
type Gate struct {
	mu         sync.Mutex
	auth       Authenticator
	quota      *store.TypedStore[*model.QuotaState]
	quotaLimit int
}

// NewGate constructs a Gate backed by auth, enforcing quotaLimit accepted
// FREE-tier EXECUTE commands per user before demotion to NORMAL. A
// non-positive quotaLimit is replaced by defaultFreeQuotaLimit.
func NewGate(auth Authenticator, quotaLimit int) *Gate {
	if quotaLimit <= 0 {
		quotaLimit = defaultFreeQuotaLimit
	}
	return &Gate{
		auth:       auth,
		quota:      store.NewTypedStore[*model.QuotaState](),
		quotaLimit: quotaLimit,
	}
}

type ctxKey int

const subjectKey ctxKey = iota

// WithSubject stashes the authenticated subject on ctx for downstream
// handlers that need it without re-running authentication.
func WithSubject(ctx context.Context, subject string) context.Context {
	return context.WithValue(ctx, subjectKey, subject)
}

// ResolveIdentity extracts the verified user id from r and derives the
// server-side role. Role is ADMIN if the provider's role claim says so;
// else FREE if the user's quota has remaining capacity; else NORMAL.
// Any role field present in the request body is never consulted here —
// callers must not pass it in.
func (g *Gate) ResolveIdentity(_ context.Context, r *http.Request) (model.UserIdentity, error) {
	subject, roleClaim, err := g.auth.Authenticate(r)
	if err != nil {
		return model.UserIdentity{}, err
	}

	if strings.EqualFold(roleClaim, string(model.RoleAdmin)) {
		return model.UserIdentity{UserID: subject, Role: model.RoleAdmin}, nil
	}

	if g.QuotaRemaining(subject) > 0 {
		return model.UserIdentity{UserID: subject, Role: model.RoleFree}, nil
	}
	return model.UserIdentity{UserID: subject, Role: model.RoleNormal}, nil
}

// PriorityFor maps a resolved role to its scheduling priority class.
func PriorityFor(role model.Role) model.Priority {
	switch role {
	case model.RoleAdmin:
		return model.PriorityAdmin
	case model.RoleFree:
		return model.PriorityFree
	default:
		return model.PriorityNormal
	}
}

// IncrementQuota records one accepted EXECUTE against userId's FREE-tier
// usage. Call exactly once per accepted EXECUTE from a FREE user, and only
// after priority has already been computed from the pre-increment snapshot.
// Prefer TryConsumeQuota where the check and the increment must not be
// separated by a window another goroutine can run in.
func (g *Gate) IncrementQuota(userID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.incrementQuotaLocked(userID)
}

// TryConsumeQuota atomically checks remaining quota and, if any is left,
// consumes one unit in the same critical section, returning the remaining
// count after consumption. ok is false if the user's quota was already
// exhausted, in which case nothing is consumed. This is the operation the
// API boundary's EXECUTE path must use instead of a separate
// QuotaRemaining-then-IncrementQuota pair: two concurrent requests calling
// the separate pair can both observe remaining quota before either
// increments, letting both through past the limit.
func (g *Gate) TryConsumeQuota(userID string) (remaining int, ok bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.quotaRemainingLocked(userID) == 0 {
		return 0, false
	}
	return g.incrementQuotaLocked(userID), true
}

// QuotaRemaining returns max(0, limit - used) for userId.
func (g *Gate) QuotaRemaining(userID string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.quotaRemainingLocked(userID)
}

// incrementQuotaLocked mutates userId's usage and returns the remaining
// quota afterward. Callers must hold g.mu.
func (g *Gate) incrementQuotaLocked(userID string) int {
	state, ok := g.quota.Get(userID)
	if !ok || state == nil {
		state = &model.QuotaState{}
	}
	state.Used++
	g.quota.Set(userID, state)

	remaining := g.quotaLimit - state.Used
	if remaining < 0 {
		return 0
	}
	return remaining
}

// quotaRemainingLocked reads userId's remaining quota. Callers must hold g.mu.
func (g *Gate) quotaRemainingLocked(userID string) int {
	state, ok := g.quota.Get(userID)
	if !ok || state == nil {
		return g.quotaLimit
	}
	remaining := g.quotaLimit - state.Used
	if remaining < 0 {
		return 0
	}
	return remaining
}
