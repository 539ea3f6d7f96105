package syncclient

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brendan612/latchkey/gateway"
	"github.com/brendan612/latchkey/payload"
	"github.com/brendan612/latchkey/storage/memory"
	"github.com/brendan612/latchkey/vaultfile"
	"github.com/brendan612/latchkey/wire"
)

const testPassword = "correct-horse-battery-staple!"

func newTestStack(t *testing.T) (*gateway.Gateway, *httptest.Server) {
	t.Helper()
	g, err := gateway.New(memory.NewStore(), []byte("client-test-root-secret"))
	require.NoError(t, err)
	ts := httptest.NewServer(g.Router())
	t.Cleanup(ts.Close)
	return g, ts
}

func clientFor(t *testing.T, g *gateway.Gateway, ts *httptest.Server, subject string, role gateway.Role) *Client {
	t.Helper()
	token, _, err := g.IssueSessionToken(subject, "acme", role)
	require.NoError(t, err)
	return New(ts.URL, token, WithHTTPClient(ts.Client()))
}

func TestClient_PushAndPullDecrypted(t *testing.T) {
	g, ts := newTestStack(t)
	deviceA := clientFor(t, g, ts, "alice", gateway.RoleEditor)
	deviceB := clientFor(t, g, ts, "alice", gateway.RoleEditor)

	f, u, err := vaultfile.Create("vault-1", testPassword)
	require.NoError(t, err)
	defer u.Lock()

	p := u.Payload
	p.Items = append(p.Items, payload.Item{Title: "example.com", Username: "alice"})
	f, err = vaultfile.Rewrite(f, u, p)
	require.NoError(t, err)

	resp, err := deviceA.Push(t.Context(), f)
	require.NoError(t, err)
	require.True(t, resp.Accepted)
	assert.Equal(t, f.Revision, resp.Revision)

	// Device B has the same vault unlocked locally and decrypts the
	// remote snapshot with its own key.
	encoded, err := f.Encode()
	require.NoError(t, err)
	localCopy, err := vaultfile.Parse(encoded)
	require.NoError(t, err)
	uB, err := vaultfile.Unlock(localCopy, testPassword)
	require.NoError(t, err)
	defer uB.Lock()

	remotePayload, remoteFile, err := deviceB.PullDecrypted(t.Context(), uB)
	require.NoError(t, err)
	require.NotNil(t, remotePayload)
	require.Len(t, remotePayload.Items, 1)
	assert.Equal(t, "example.com", remotePayload.Items[0].Title)
	assert.Equal(t, f.Revision, remoteFile.Revision)
}

func TestClient_PullDecrypted_NeverPushed(t *testing.T) {
	g, ts := newTestStack(t)
	c := clientFor(t, g, ts, "alice", gateway.RoleEditor)

	_, u, err := vaultfile.Create("vault-unseen", testPassword)
	require.NoError(t, err)
	defer u.Lock()

	remotePayload, remoteFile, err := c.PullDecrypted(t.Context(), u)
	require.NoError(t, err)
	assert.Nil(t, remotePayload)
	assert.Nil(t, remoteFile)
}

func TestClient_PullDecrypted_ForeignSnapshot(t *testing.T) {
	g, ts := newTestStack(t)
	c := clientFor(t, g, ts, "alice", gateway.RoleEditor)

	// A different vault's envelope stored under this vault's ID must be
	// an explicit error, never silently accepted.
	foreign, fu, err := vaultfile.Create("vault-other", testPassword)
	require.NoError(t, err)
	fu.Lock()
	encoded, err := foreign.Encode()
	require.NoError(t, err)

	body, err := json.Marshal(wire.PushRequest{
		Revision:      foreign.Revision,
		UpdatedAt:     foreign.UpdatedAt,
		EncryptedFile: encoded,
	})
	require.NoError(t, err)
	token, _, err := g.IssueSessionToken("alice", "acme", gateway.RoleEditor)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, ts.URL+"/v1/vaults/vault-mine/push", bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	_, u, err := vaultfile.Create("vault-mine", testPassword)
	require.NoError(t, err)
	defer u.Lock()

	_, _, err = c.PullDecrypted(t.Context(), u)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "vault-mine")
}

func TestClient_Push_RejectionIsNotAnError(t *testing.T) {
	g, ts := newTestStack(t)
	deviceA := clientFor(t, g, ts, "alice", gateway.RoleEditor)
	deviceB := clientFor(t, g, ts, "bob", gateway.RoleEditor)

	f, u, err := vaultfile.Create("vault-1", testPassword)
	require.NoError(t, err)
	defer u.Lock()
	f, err = vaultfile.Rewrite(f, u, u.Payload)
	require.NoError(t, err)

	resp, err := deviceA.Push(t.Context(), f)
	require.NoError(t, err)
	require.True(t, resp.Accepted)

	// B pushes a file at the same revision: rejected, but a normal
	// outcome with the current holder named.
	resp, err = deviceB.Push(t.Context(), f)
	require.NoError(t, err)
	assert.False(t, resp.Accepted)
	assert.Equal(t, f.Revision, resp.Revision)
	assert.Equal(t, "alice", resp.OwnerID)
}

func TestClient_ListByOwner(t *testing.T) {
	g, ts := newTestStack(t)
	c := clientFor(t, g, ts, "alice", gateway.RoleEditor)

	for _, id := range []string{"vault-a", "vault-b"} {
		f, u, err := vaultfile.Create(id, testPassword)
		require.NoError(t, err)
		_, err = c.Push(t.Context(), f)
		require.NoError(t, err)
		u.Lock()
	}

	listings, err := c.ListByOwner(t.Context())
	require.NoError(t, err)
	require.Len(t, listings, 2)
	assert.Equal(t, "vault-a", listings[0].VaultID)
	assert.Equal(t, "vault-b", listings[1].VaultID)
}

func TestClient_AuthStatus(t *testing.T) {
	g, ts := newTestStack(t)
	c := clientFor(t, g, ts, "alice", gateway.RoleViewer)

	status, err := c.AuthStatus(t.Context())
	require.NoError(t, err)
	assert.True(t, status.Authenticated)
	assert.Equal(t, "alice", status.Subject)

	stale := New(ts.URL, "not-a-real-token", WithHTTPClient(ts.Client()))
	status, err = stale.AuthStatus(t.Context())
	require.NoError(t, err)
	assert.False(t, status.Authenticated)
}

func TestClient_Delete(t *testing.T) {
	g, ts := newTestStack(t)
	c := clientFor(t, g, ts, "alice", gateway.RoleAdmin)

	f, u, err := vaultfile.Create("vault-1", testPassword)
	require.NoError(t, err)
	defer u.Lock()
	_, err = c.Push(t.Context(), f)
	require.NoError(t, err)

	require.NoError(t, c.Delete(t.Context(), "vault-1"))
	_, found, err := c.Pull(t.Context(), "vault-1")
	require.NoError(t, err)
	assert.False(t, found)

	err = c.Delete(t.Context(), "vault-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}

func TestSubscribe_DeliversEvents(t *testing.T) {
	g, ts := newTestStack(t)
	watcher := clientFor(t, g, ts, "alice", gateway.RoleViewer)
	editor := clientFor(t, g, ts, "bob", gateway.RoleEditor)

	sub := watcher.Subscribe(t.Context(), "vault-1")
	defer sub.Close()

	waitForState(t, sub, StateOpen)

	f, u, err := vaultfile.Create("vault-1", testPassword)
	require.NoError(t, err)
	defer u.Lock()
	resp, err := editor.Push(t.Context(), f)
	require.NoError(t, err)
	require.True(t, resp.Accepted)

	select {
	case event := <-sub.Events():
		assert.Equal(t, "vault-1", event.VaultID)
		assert.Equal(t, f.Revision, event.Revision)
	case <-time.After(5 * time.Second):
		t.Fatal("no vault-updated event arrived")
	}
}

func TestSubscribe_CloseEndsStream(t *testing.T) {
	g, ts := newTestStack(t)
	watcher := clientFor(t, g, ts, "alice", gateway.RoleViewer)

	sub := watcher.Subscribe(t.Context(), "vault-1")
	waitForState(t, sub, StateOpen)
	sub.Close()

	_, open := <-sub.Events()
	assert.False(t, open)
}

func waitForState(t *testing.T, sub *Subscription, want StreamState) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case state := <-sub.States():
			if state == want {
				return
			}
		case <-deadline:
			t.Fatalf("subscription never reached state %q", want)
		}
	}
}
