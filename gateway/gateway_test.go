package gateway

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brendan612/latchkey/storage"
	"github.com/brendan612/latchkey/storage/memory"
	"github.com/brendan612/latchkey/wire"
)

var testRootSecret = []byte("test-root-secret-0123456789abcdef")

func newTestGateway(t *testing.T, opts ...Option) (*Gateway, *httptest.Server) {
	t.Helper()
	g, err := New(memory.NewStore(), testRootSecret, opts...)
	require.NoError(t, err)
	ts := httptest.NewServer(g.Router())
	t.Cleanup(ts.Close)
	return g, ts
}

func sessionFor(t *testing.T, g *Gateway, subject, orgID string, role Role) string {
	t.Helper()
	token, _, err := g.IssueSessionToken(subject, orgID, role)
	require.NoError(t, err)
	return token
}

// doJSON sends a request with an optional bearer token and JSON body and
// returns the status plus raw response bytes.
func doJSON(t *testing.T, ts *httptest.Server, method, path, token string, body any) (int, []byte) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, ts.URL+path, reader)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, raw
}

func pushBody(revision uint64) wire.PushRequest {
	return wire.PushRequest{
		Revision:      revision,
		UpdatedAt:     time.Now().UTC(),
		EncryptedFile: json.RawMessage(fmt.Sprintf(`{"format":"latchkey/vault/v1","revision":%d}`, revision)),
	}
}

func TestAuthStatus(t *testing.T) {
	g, ts := newTestGateway(t)

	status, raw := doJSON(t, ts, http.MethodPost, "/v1/auth/status", "", nil)
	require.Equal(t, http.StatusOK, status)
	var anon wire.AuthStatusResponse
	require.NoError(t, json.Unmarshal(raw, &anon))
	assert.False(t, anon.Authenticated)
	assert.Empty(t, anon.Subject)

	token := sessionFor(t, g, "alice", "acme", RoleAdmin)
	status, raw = doJSON(t, ts, http.MethodPost, "/v1/auth/status", token, nil)
	require.Equal(t, http.StatusOK, status)
	var authed wire.AuthStatusResponse
	require.NoError(t, json.Unmarshal(raw, &authed))
	assert.True(t, authed.Authenticated)
	assert.Equal(t, "alice", authed.Subject)
	assert.Equal(t, "acme", authed.OrgID)
	assert.Equal(t, "admin", authed.Role)
}

func TestAuthStatus_Strict(t *testing.T) {
	_, ts := newTestGateway(t, WithStrictAuth())
	status, _ := doJSON(t, ts, http.MethodPost, "/v1/auth/status", "", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestAuthStatus_LegacyTokenAndDeviceHint(t *testing.T) {
	_, ts := newTestGateway(t, WithLegacyTokens(map[string]string{"old-token": "carol"}))

	req, err := http.NewRequest(http.MethodPost, ts.URL+"/v1/auth/status", nil)
	require.NoError(t, err)
	req.Header.Set("X-Legacy-Token", "old-token")
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var got wire.AuthStatusResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.True(t, got.Authenticated)
	assert.Equal(t, "carol", got.Subject)
	assert.Equal(t, "personal:carol", got.OrgID)
	// First subject in a fresh org becomes its owner.
	assert.Equal(t, "owner", got.Role)

	req, err = http.NewRequest(http.MethodPost, ts.URL+"/v1/auth/status", nil)
	require.NoError(t, err)
	req.Header.Set("X-Device-Hint", "laptop-1234")
	resp, err = ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.True(t, got.Authenticated)
	assert.True(t, strings.HasPrefix(got.Subject, "device:"))
}

func TestPushPull_RoundTrip(t *testing.T) {
	g, ts := newTestGateway(t)
	token := sessionFor(t, g, "alice", "acme", RoleEditor)

	body := pushBody(1)
	status, raw := doJSON(t, ts, http.MethodPost, "/v1/vaults/vault-1/push", token, body)
	require.Equal(t, http.StatusOK, status)
	var pushed wire.PushResponse
	require.NoError(t, json.Unmarshal(raw, &pushed))
	assert.True(t, pushed.Accepted)
	assert.Equal(t, uint64(1), pushed.Revision)
	assert.Equal(t, "alice", pushed.OwnerID)

	status, raw = doJSON(t, ts, http.MethodPost, "/v1/vaults/vault-1/pull", token, nil)
	require.Equal(t, http.StatusOK, status)
	var pulled wire.PullResponse
	require.NoError(t, json.Unmarshal(raw, &pulled))
	require.True(t, pulled.Found)
	assert.Equal(t, uint64(1), pulled.Snapshot.Revision)
	assert.JSONEq(t, string(body.EncryptedFile), string(pulled.Snapshot.EncryptedFile))

	// Same routes under the v2 prefix.
	status, raw = doJSON(t, ts, http.MethodPost, "/v2/vaults/vault-1/pull", token, nil)
	require.Equal(t, http.StatusOK, status)
	require.NoError(t, json.Unmarshal(raw, &pulled))
	assert.True(t, pulled.Found)
}

func TestPull_NeverPushed(t *testing.T) {
	g, ts := newTestGateway(t)
	token := sessionFor(t, g, "alice", "acme", RoleViewer)

	status, raw := doJSON(t, ts, http.MethodPost, "/v1/vaults/nope/pull", token, nil)
	require.Equal(t, http.StatusOK, status)
	var pulled wire.PullResponse
	require.NoError(t, json.Unmarshal(raw, &pulled))
	assert.False(t, pulled.Found)
	assert.Nil(t, pulled.Snapshot)
}

func TestPush_RevisionOrdering(t *testing.T) {
	g, ts := newTestGateway(t)
	deviceA := sessionFor(t, g, "alice", "acme", RoleEditor)
	deviceB := sessionFor(t, g, "bob", "acme", RoleEditor)

	status, _ := doJSON(t, ts, http.MethodPost, "/v1/vaults/shared/push", deviceA, pushBody(1))
	require.Equal(t, http.StatusOK, status)
	status, _ = doJSON(t, ts, http.MethodPost, "/v1/vaults/shared/push", deviceA, pushBody(2))
	require.Equal(t, http.StatusOK, status)

	// Device B pushes the same revision it last saw; the gateway keeps
	// device A's copy and tells B who holds the current revision.
	status, raw := doJSON(t, ts, http.MethodPost, "/v1/vaults/shared/push", deviceB, pushBody(2))
	require.Equal(t, http.StatusOK, status)
	var rejected wire.PushResponse
	require.NoError(t, json.Unmarshal(raw, &rejected))
	assert.False(t, rejected.Accepted)
	assert.Equal(t, uint64(2), rejected.Revision)
	assert.Equal(t, "alice", rejected.OwnerID)

	// After re-pulling, B pushes a strictly newer revision.
	status, raw = doJSON(t, ts, http.MethodPost, "/v1/vaults/shared/push", deviceB, pushBody(3))
	require.Equal(t, http.StatusOK, status)
	var accepted wire.PushResponse
	require.NoError(t, json.Unmarshal(raw, &accepted))
	assert.True(t, accepted.Accepted)
	assert.Equal(t, "bob", accepted.OwnerID)
}

func TestPush_Validation(t *testing.T) {
	g, ts := newTestGateway(t)
	token := sessionFor(t, g, "alice", "acme", RoleEditor)

	cases := []struct {
		name string
		body wire.PushRequest
		want string
	}{
		{"zero revision", wire.PushRequest{UpdatedAt: time.Now(), EncryptedFile: json.RawMessage(`{}`)}, "revision"},
		{"missing updated_at", wire.PushRequest{Revision: 1, EncryptedFile: json.RawMessage(`{}`)}, "updated_at"},
		{"missing encrypted_file", wire.PushRequest{Revision: 1, UpdatedAt: time.Now()}, "encrypted_file"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, raw := doJSON(t, ts, http.MethodPost, "/v1/vaults/v/push", token, tc.body)
			require.Equal(t, http.StatusBadRequest, status)
			var resp wire.ErrorResponse
			require.NoError(t, json.Unmarshal(raw, &resp))
			assert.Contains(t, resp.Error, tc.want)
		})
	}
}

func TestPush_IdempotencyReplay(t *testing.T) {
	g, ts := newTestGateway(t)
	token := sessionFor(t, g, "alice", "acme", RoleEditor)

	send := func() (int, []byte) {
		raw, err := json.Marshal(pushBody(5))
		require.NoError(t, err)
		req, err := http.NewRequest(http.MethodPost, ts.URL+"/v1/vaults/v/push", bytes.NewReader(raw))
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Idempotency-Key", "push-5")
		resp, err := ts.Client().Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		return resp.StatusCode, body
	}

	status, first := send()
	require.Equal(t, http.StatusOK, status)
	var resp wire.PushResponse
	require.NoError(t, json.Unmarshal(first, &resp))
	require.True(t, resp.Accepted)

	// Without the key this retry would be a rejection: revision 5 is no
	// longer strictly newer. The replay must return the original bytes.
	status, second := send()
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, first, second)
}

// panicOnceStore blows up on the first CompareAndPut and behaves normally
// afterwards.
type panicOnceStore struct {
	storage.Store
	tripped bool
}

func (s *panicOnceStore) CompareAndPut(rec *storage.Record) (bool, error) {
	if !s.tripped {
		s.tripped = true
		panic("store write exploded")
	}
	return s.Store.CompareAndPut(rec)
}

func TestPush_IdempotencyReleasedAfterPanic(t *testing.T) {
	g, err := New(&panicOnceStore{Store: memory.NewStore()}, testRootSecret)
	require.NoError(t, err)
	ts := httptest.NewServer(g.Router())
	t.Cleanup(ts.Close)
	token := sessionFor(t, g, "alice", "acme", RoleEditor)

	send := func() (int, []byte) {
		raw, err := json.Marshal(pushBody(1))
		require.NoError(t, err)
		req, err := http.NewRequest(http.MethodPost, ts.URL+"/v1/vaults/v/push", bytes.NewReader(raw))
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Idempotency-Key", "push-after-panic")
		resp, err := ts.Client().Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		return resp.StatusCode, body
	}

	status, _ := send()
	require.Equal(t, http.StatusInternalServerError, status)

	// The failed request must not keep holding the key; the retry executes
	// instead of blocking on a response that will never arrive.
	status, body := send()
	require.Equal(t, http.StatusOK, status)
	var resp wire.PushResponse
	require.NoError(t, json.Unmarshal(body, &resp))
	assert.True(t, resp.Accepted)
}

func TestPush_IdempotencyConcurrent(t *testing.T) {
	g, ts := newTestGateway(t)
	token := sessionFor(t, g, "alice", "acme", RoleEditor)

	raw, err := json.Marshal(pushBody(1))
	require.NoError(t, err)

	const workers = 8
	bodies := make([][]byte, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req, err := http.NewRequest(http.MethodPost, ts.URL+"/v1/vaults/v/push", bytes.NewReader(raw))
			if err != nil {
				return
			}
			req.Header.Set("Authorization", "Bearer "+token)
			req.Header.Set("Idempotency-Key", "concurrent-1")
			resp, err := ts.Client().Do(req)
			if err != nil {
				return
			}
			defer resp.Body.Close()
			bodies[i], _ = io.ReadAll(resp.Body)
		}(i)
	}
	wg.Wait()

	for i := 1; i < workers; i++ {
		assert.Equal(t, bodies[0], bodies[i], "response %d differs", i)
	}
	var resp wire.PushResponse
	require.NoError(t, json.Unmarshal(bodies[0], &resp))
	assert.True(t, resp.Accepted)
}

func TestRoleEnforcement(t *testing.T) {
	g, ts := newTestGateway(t)
	viewer := sessionFor(t, g, "vera", "acme", RoleViewer)
	editor := sessionFor(t, g, "ed", "acme", RoleEditor)
	admin := sessionFor(t, g, "adele", "acme", RoleAdmin)

	status, _ := doJSON(t, ts, http.MethodPost, "/v1/vaults/v/push", editor, pushBody(1))
	require.Equal(t, http.StatusOK, status)

	// Viewer reads but cannot write or administer.
	status, _ = doJSON(t, ts, http.MethodPost, "/v1/vaults/v/pull", viewer, nil)
	assert.Equal(t, http.StatusOK, status)
	status, _ = doJSON(t, ts, http.MethodPost, "/v1/vaults/v/push", viewer, pushBody(2))
	assert.Equal(t, http.StatusForbidden, status)
	status, _ = doJSON(t, ts, http.MethodDelete, "/v1/vaults/v", viewer, nil)
	assert.Equal(t, http.StatusForbidden, status)

	// Editor writes but cannot administer.
	status, _ = doJSON(t, ts, http.MethodDelete, "/v1/vaults/v", editor, nil)
	assert.Equal(t, http.StatusForbidden, status)
	status, _ = doJSON(t, ts, http.MethodGet, "/v1/orgs/acme/audit", editor, nil)
	assert.Equal(t, http.StatusForbidden, status)

	// Admin does both.
	status, _ = doJSON(t, ts, http.MethodGet, "/v1/orgs/acme/audit", admin, nil)
	assert.Equal(t, http.StatusOK, status)
	status, _ = doJSON(t, ts, http.MethodDelete, "/v1/vaults/v", admin, nil)
	assert.Equal(t, http.StatusNoContent, status)

	// No identity at all: a generic 401.
	status, raw := doJSON(t, ts, http.MethodPost, "/v1/vaults/v/pull", "", nil)
	require.Equal(t, http.StatusUnauthorized, status)
	var resp wire.ErrorResponse
	require.NoError(t, json.Unmarshal(raw, &resp))
	assert.Equal(t, "authentication required", resp.Error)
}

func TestCrossOrgAdministrationDenied(t *testing.T) {
	g, ts := newTestGateway(t)
	acmeAdmin := sessionFor(t, g, "adele", "acme", RoleAdmin)

	status, _ := doJSON(t, ts, http.MethodGet, "/v1/orgs/globex/audit", acmeAdmin, nil)
	assert.Equal(t, http.StatusForbidden, status)
	status, _ = doJSON(t, ts, http.MethodPost, "/v1/orgs/globex/members", acmeAdmin,
		wire.AddMemberRequest{Subject: "mallory", Role: "admin"})
	assert.Equal(t, http.StatusForbidden, status)
}

func TestOrgIsolation(t *testing.T) {
	g, ts := newTestGateway(t)
	acme := sessionFor(t, g, "alice", "acme", RoleEditor)
	globex := sessionFor(t, g, "gus", "globex", RoleEditor)

	status, _ := doJSON(t, ts, http.MethodPost, "/v1/vaults/shared-id/push", acme, pushBody(1))
	require.Equal(t, http.StatusOK, status)

	// The same vault ID in another org is a separate record.
	status, raw := doJSON(t, ts, http.MethodPost, "/v1/vaults/shared-id/pull", globex, nil)
	require.Equal(t, http.StatusOK, status)
	var pulled wire.PullResponse
	require.NoError(t, json.Unmarshal(raw, &pulled))
	assert.False(t, pulled.Found)
}

func TestMembers(t *testing.T) {
	g, ts := newTestGateway(t)
	owner := sessionFor(t, g, "olive", "acme", RoleOwner)
	admin := sessionFor(t, g, "adele", "acme", RoleAdmin)

	status, _ := doJSON(t, ts, http.MethodPost, "/v1/orgs/acme/members", admin,
		wire.AddMemberRequest{Subject: "ned", Role: "editor"})
	require.Equal(t, http.StatusNoContent, status)
	assert.Equal(t, RoleEditor, g.orgs.resolve("acme", "ned"))

	// An admin cannot mint owners.
	status, _ = doJSON(t, ts, http.MethodPost, "/v1/orgs/acme/members", admin,
		wire.AddMemberRequest{Subject: "mallory", Role: "owner"})
	assert.Equal(t, http.StatusForbidden, status)

	status, _ = doJSON(t, ts, http.MethodPost, "/v1/orgs/acme/members", admin,
		wire.AddMemberRequest{Subject: "x", Role: "supreme-leader"})
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = doJSON(t, ts, http.MethodDelete, "/v1/orgs/acme/members/ned", admin, nil)
	require.Equal(t, http.StatusNoContent, status)

	// The last owner cannot be removed.
	status, _ = doJSON(t, ts, http.MethodDelete, "/v1/orgs/acme/members/olive", owner, nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestRemoveMember_RankEnforced(t *testing.T) {
	g, ts := newTestGateway(t)
	owner := sessionFor(t, g, "olive", "acme", RoleOwner)
	sessionFor(t, g, "oscar", "acme", RoleOwner)
	admin := sessionFor(t, g, "adele", "acme", RoleAdmin)

	// Two owners exist, so the last-owner rule is not what stops this; an
	// admin cannot remove an owner any more than mint one.
	status, _ := doJSON(t, ts, http.MethodDelete, "/v1/orgs/acme/members/oscar", admin, nil)
	assert.Equal(t, http.StatusForbidden, status)
	_, stillThere := g.orgs.memberRole("acme", "oscar")
	assert.True(t, stillThere)

	// Equal rank is fine.
	status, _ = doJSON(t, ts, http.MethodDelete, "/v1/orgs/acme/members/adele", admin, nil)
	assert.Equal(t, http.StatusNoContent, status)

	status, _ = doJSON(t, ts, http.MethodDelete, "/v1/orgs/acme/members/oscar", owner, nil)
	assert.Equal(t, http.StatusNoContent, status)
}

func TestAudit(t *testing.T) {
	g, ts := newTestGateway(t, WithAuditCap(2))
	admin := sessionFor(t, g, "adele", "acme", RoleAdmin)

	for rev := uint64(1); rev <= 3; rev++ {
		status, _ := doJSON(t, ts, http.MethodPost, "/v1/vaults/v/push", admin, pushBody(rev))
		require.Equal(t, http.StatusOK, status)
	}

	status, raw := doJSON(t, ts, http.MethodGet, "/v1/orgs/acme/audit", admin, nil)
	require.Equal(t, http.StatusOK, status)
	var resp wire.AuditResponse
	require.NoError(t, json.Unmarshal(raw, &resp))

	// Capped at 2, newest first.
	require.Len(t, resp.Entries, 2)
	assert.Equal(t, "vault_pushed", resp.Entries[0].Action)
	assert.Equal(t, "3", resp.Entries[0].Metadata["revision"])
	assert.Equal(t, "2", resp.Entries[1].Metadata["revision"])
}

func TestListAndPullByOwner(t *testing.T) {
	g, ts := newTestGateway(t)
	alice := sessionFor(t, g, "alice", "acme", RoleEditor)
	bob := sessionFor(t, g, "bob", "acme", RoleEditor)

	status, _ := doJSON(t, ts, http.MethodPost, "/v1/vaults/a/push", alice, pushBody(1))
	require.Equal(t, http.StatusOK, status)
	status, _ = doJSON(t, ts, http.MethodPost, "/v1/vaults/b/push", alice, pushBody(4))
	require.Equal(t, http.StatusOK, status)
	status, _ = doJSON(t, ts, http.MethodPost, "/v1/vaults/c/push", bob, pushBody(1))
	require.Equal(t, http.StatusOK, status)

	status, raw := doJSON(t, ts, http.MethodPost, "/v1/vaults/list-by-owner", alice, nil)
	require.Equal(t, http.StatusOK, status)
	var listed wire.ListByOwnerResponse
	require.NoError(t, json.Unmarshal(raw, &listed))
	require.Len(t, listed.Vaults, 2)
	assert.Equal(t, "a", listed.Vaults[0].VaultID)
	assert.Equal(t, "b", listed.Vaults[1].VaultID)

	status, raw = doJSON(t, ts, http.MethodPost, "/v1/vaults/pull-by-owner", bob, nil)
	require.Equal(t, http.StatusOK, status)
	var pulled wire.PullResponse
	require.NoError(t, json.Unmarshal(raw, &pulled))
	require.True(t, pulled.Found)
	assert.Equal(t, "c", pulled.Snapshot.VaultID)
}

func TestDeleteVault(t *testing.T) {
	g, ts := newTestGateway(t)
	admin := sessionFor(t, g, "adele", "acme", RoleAdmin)

	status, _ := doJSON(t, ts, http.MethodPost, "/v1/vaults/v/push", admin, pushBody(1))
	require.Equal(t, http.StatusOK, status)
	status, _ = doJSON(t, ts, http.MethodDelete, "/v1/vaults/v", admin, nil)
	require.Equal(t, http.StatusNoContent, status)

	status, raw := doJSON(t, ts, http.MethodPost, "/v1/vaults/v/pull", admin, nil)
	require.Equal(t, http.StatusOK, status)
	var pulled wire.PullResponse
	require.NoError(t, json.Unmarshal(raw, &pulled))
	assert.False(t, pulled.Found)

	status, _ = doJSON(t, ts, http.MethodDelete, "/v1/vaults/v", admin, nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestRateLimit(t *testing.T) {
	g, ts := newTestGateway(t, WithRateLimit(3, time.Minute))
	token := sessionFor(t, g, "alice", "acme", RoleViewer)

	var last int
	for i := 0; i < 4; i++ {
		last, _ = doJSON(t, ts, http.MethodPost, "/v1/vaults/v/pull", token, nil)
	}
	assert.Equal(t, http.StatusTooManyRequests, last)
	assert.Equal(t, int64(1), g.metrics.snapshot()["rate_limited"])
}

func TestStreamToken_Scope(t *testing.T) {
	g, ts := newTestGateway(t)
	token := sessionFor(t, g, "alice", "acme", RoleViewer)

	status, raw := doJSON(t, ts, http.MethodPost, "/v1/events/token", token,
		wire.StreamTokenRequest{VaultID: "vault-a"})
	require.Equal(t, http.StatusOK, status)
	var st wire.StreamTokenResponse
	require.NoError(t, json.Unmarshal(raw, &st))
	require.NotEmpty(t, st.Token)
	assert.WithinDuration(t, time.Now().Add(2*time.Minute), st.ExpiresAt, 10*time.Second)

	// A stream token never opens a different vault's stream.
	resp, err := ts.Client().Get(ts.URL + "/v1/vaults/vault-b/events?token=" + st.Token)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// A session token is not a stream token.
	resp, err = ts.Client().Get(ts.URL + "/v1/vaults/vault-a/events?token=" + token)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestStreamToken_Expiry(t *testing.T) {
	g, ts := newTestGateway(t, WithTokenTTLs(time.Hour, 50*time.Millisecond))
	token := sessionFor(t, g, "alice", "acme", RoleViewer)

	status, raw := doJSON(t, ts, http.MethodPost, "/v1/events/token", token,
		wire.StreamTokenRequest{VaultID: "v"})
	require.Equal(t, http.StatusOK, status)
	var st wire.StreamTokenResponse
	require.NoError(t, json.Unmarshal(raw, &st))

	time.Sleep(100 * time.Millisecond)
	resp, err := ts.Client().Get(ts.URL + "/v1/vaults/v/events?token=" + st.Token)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestEvents_DeliversVaultUpdated(t *testing.T) {
	g, ts := newTestGateway(t, WithHeartbeat(time.Hour))
	editor := sessionFor(t, g, "ed", "acme", RoleEditor)

	status, raw := doJSON(t, ts, http.MethodPost, "/v1/events/token", editor,
		wire.StreamTokenRequest{VaultID: "v"})
	require.Equal(t, http.StatusOK, status)
	var st wire.StreamTokenResponse
	require.NoError(t, json.Unmarshal(raw, &st))

	resp, err := ts.Client().Get(ts.URL + "/v1/vaults/v/events?token=" + st.Token)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	readEvent := func() (string, string) {
		var name, data string
		for {
			line, err := reader.ReadString('\n')
			require.NoError(t, err)
			line = strings.TrimRight(line, "\n")
			switch {
			case line == "" && name != "":
				return name, data
			case strings.HasPrefix(line, "event: "):
				name = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				data = strings.TrimPrefix(line, "data: ")
			}
		}
	}

	name, _ := readEvent()
	require.Equal(t, "ready", name)

	status, _ = doJSON(t, ts, http.MethodPost, "/v1/vaults/v/push", editor, pushBody(7))
	require.Equal(t, http.StatusOK, status)

	name, data := readEvent()
	require.Equal(t, "vault-updated", name)
	var event wire.VaultUpdatedEvent
	require.NoError(t, json.Unmarshal([]byte(data), &event))
	assert.Equal(t, "v", event.VaultID)
	assert.Equal(t, uint64(7), event.Revision)
}

func TestRecoverMiddleware(t *testing.T) {
	g, err := New(memory.NewStore(), testRootSecret)
	require.NoError(t, err)
	r := g.Router()

	// Mounting a panicking route behind the gateway's recoverer.
	r.Get("/boom", func(http.ResponseWriter, *http.Request) { panic("kaboom") })
	ts := httptest.NewServer(r)
	defer ts.Close()

	resp, err := ts.Client().Get(ts.URL + "/boom")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	var body wire.ErrorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Contains(t, body.Error, "kaboom")
}

func TestMetricsEndpoint(t *testing.T) {
	g, ts := newTestGateway(t)
	editor := sessionFor(t, g, "ed", "acme", RoleEditor)

	status, _ := doJSON(t, ts, http.MethodPost, "/v1/vaults/v/push", editor, pushBody(1))
	require.Equal(t, http.StatusOK, status)
	status, _ = doJSON(t, ts, http.MethodPost, "/v1/vaults/v/push", editor, pushBody(1))
	require.Equal(t, http.StatusOK, status)

	resp, err := ts.Client().Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	var counters map[string]int64
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&counters))
	assert.Equal(t, int64(1), counters["push_accepted"])
	assert.Equal(t, int64(1), counters["push_rejected"])
}
