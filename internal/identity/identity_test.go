package identity

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/clusterchat/operator/pkg/model"
)

func newRequest(bearer, roleClaim string) *http.Request {
	r := httptest.NewRequest(http.MethodPost, "/chat", nil)
	if bearer != "" {
		r.Header.Set("Authorization", "Bearer "+bearer)
	}
	if roleClaim != "" {
		r.Header.Set("X-Role-Claim", roleClaim)
	}
	return r
}

func TestHeaderAuthenticator_MissingCredentials(t *testing.T) {
	auth := NewHeaderAuthenticator("Authorization")
	_, _, err := auth.Authenticate(httptest.NewRequest(http.MethodPost, "/chat", nil))
	if err != ErrMissingCredentials {
		t.Fatalf("expected ErrMissingCredentials, got %v", err)
	}
}

func TestHeaderAuthenticator_ExtractsSubjectAndRoleClaim(t *testing.T) {
	auth := NewHeaderAuthenticator("Authorization")
	subject, roleClaim, err := auth.Authenticate(newRequest("alice-token", "ADMIN"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if subject != "alice-token" {
		t.Errorf("subject = %q, want %q", subject, "alice-token")
	}
	if roleClaim != "ADMIN" {
		t.Errorf("roleClaim = %q, want %q", roleClaim, "ADMIN")
	}
}

func TestGate_ResolveIdentity_Admin(t *testing.T) {
	g := NewGate(NewHeaderAuthenticator("Authorization"), 3)
	id, err := g.ResolveIdentity(nil, newRequest("admin-1", "ADMIN"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id.Role != model.RoleAdmin {
		t.Fatalf("Role = %v, want ADMIN", id.Role)
	}
}

func TestGate_ResolveIdentity_FreeThenNormalAfterQuota(t *testing.T) {
	g := NewGate(NewHeaderAuthenticator("Authorization"), 3)

	for i := 0; i < 3; i++ {
		id, err := g.ResolveIdentity(nil, newRequest("bob-1", ""))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if id.Role != model.RoleFree {
			t.Fatalf("command %d: Role = %v, want FREE", i, id.Role)
		}
		g.IncrementQuota("bob-1")
	}

	// Fourth resolution, quota now exhausted — demoted to NORMAL.
	id, err := g.ResolveIdentity(nil, newRequest("bob-1", ""))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id.Role != model.RoleNormal {
		t.Fatalf("Role after quota exhaustion = %v, want NORMAL", id.Role)
	}
}

func TestGate_ResolveIdentity_IgnoresClientDeclaredRoleField(t *testing.T) {
	// The request body's role field is never plumbed into ResolveIdentity
	// at all — only the header role claim is consulted. This test pins
	// that there is no code path by which a non-ADMIN claim yields ADMIN.
	g := NewGate(NewHeaderAuthenticator("Authorization"), 3)
	id, err := g.ResolveIdentity(nil, newRequest("carol-1", "NORMAL"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id.Role == model.RoleAdmin {
		t.Fatal("non-admin role claim must never resolve to ADMIN")
	}
}

func TestGate_PriorityFor(t *testing.T) {
	cases := []struct {
		role model.Role
		want model.Priority
	}{
		{model.RoleAdmin, model.PriorityAdmin},
		{model.RoleFree, model.PriorityFree},
		{model.RoleNormal, model.PriorityNormal},
	}
	for _, c := range cases {
		if got := PriorityFor(c.role); got != c.want {
			t.Errorf("PriorityFor(%v) = %v, want %v", c.role, got, c.want)
		}
	}
}

func TestGate_QuotaRemaining_MonotonicNonIncreasing(t *testing.T) {
	g := NewGate(NewHeaderAuthenticator("Authorization"), 3)

	prev := g.QuotaRemaining("dave-1")
	for i := 0; i < 3; i++ {
		g.IncrementQuota("dave-1")
		cur := g.QuotaRemaining("dave-1")
		if cur > prev {
			t.Fatalf("QuotaRemaining increased from %d to %d", prev, cur)
		}
		prev = cur
	}
	if prev != 0 {
		t.Fatalf("expected quota to reach 0 after 3 increments, got %d", prev)
	}

	// Further increments never go negative.
	g.IncrementQuota("dave-1")
	if g.QuotaRemaining("dave-1") != 0 {
		t.Fatalf("QuotaRemaining = %d, want 0 (floor)", g.QuotaRemaining("dave-1"))
	}
}

func TestGate_TryConsumeQuota_ConcurrentCallsNeverExceedLimit(t *testing.T) {
	g := NewGate(NewHeaderAuthenticator("Authorization"), 3)

	const attempts = 50
	var successes atomic.Int32
	var wg sync.WaitGroup
	wg.Add(attempts)
	for i := 0; i < attempts; i++ {
		go func() {
			defer wg.Done()
			if _, ok := g.TryConsumeQuota("erin-1"); ok {
				successes.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := successes.Load(); got != 3 {
		t.Fatalf("got %d successful consumptions across %d concurrent callers, want exactly 3 (the quota limit)", got, attempts)
	}
	if got := g.QuotaRemaining("erin-1"); got != 0 {
		t.Fatalf("QuotaRemaining after exhausting concurrently = %d, want 0", got)
	}
}

func TestGate_QuotaRemaining_DefaultsToLimitForUnseenUser(t *testing.T) {
	g := NewGate(NewHeaderAuthenticator("Authorization"), 3)
	if got := g.QuotaRemaining("never-seen"); got != 3 {
		t.Fatalf("QuotaRemaining(unseen) = %d, want 3", got)
	}
}
