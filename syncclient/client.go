// Package syncclient is the client side of the sync protocol: it pushes
// and pulls encrypted vault envelopes against a gateway, decrypts pulled
// snapshots with a locally unlocked vault, and subscribes to live update
// events. All cryptography stays on this side of the wire.
package syncclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/brendan612/latchkey/payload"
	"github.com/brendan612/latchkey/vaultfile"
	"github.com/brendan612/latchkey/wire"
)

// Client talks to one sync gateway on behalf of one session.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *slog.Logger
}

// Option configures the Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// New creates a client for the gateway at baseURL, authenticating every
// request with the given session token.
func New(baseURL, token string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c
}

// AuthStatus asks the gateway whether this client's token resolves.
func (c *Client) AuthStatus(ctx context.Context) (*wire.AuthStatusResponse, error) {
	var resp wire.AuthStatusResponse
	if err := c.postJSON(ctx, "/v1/auth/status", nil, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Pull fetches the gateway's snapshot of a vault. found is false when the
// vault has never been pushed.
func (c *Client) Pull(ctx context.Context, vaultID string) (*wire.VaultSnapshot, bool, error) {
	var resp wire.PullResponse
	if err := c.postJSON(ctx, "/v1/vaults/"+vaultID+"/pull", nil, nil, &resp); err != nil {
		return nil, false, err
	}
	if !resp.Found {
		return nil, false, nil
	}
	return resp.Snapshot, true, nil
}

// PullByOwner fetches the caller's most recently updated vault, for fresh
// devices that do not yet know a vault ID.
func (c *Client) PullByOwner(ctx context.Context) (*wire.VaultSnapshot, bool, error) {
	var resp wire.PullResponse
	if err := c.postJSON(ctx, "/v1/vaults/pull-by-owner", nil, nil, &resp); err != nil {
		return nil, false, err
	}
	if !resp.Found {
		return nil, false, nil
	}
	return resp.Snapshot, true, nil
}

// ListByOwner lists the caller's vaults without their contents.
func (c *Client) ListByOwner(ctx context.Context) ([]wire.VaultListing, error) {
	var resp wire.ListByOwnerResponse
	if err := c.postJSON(ctx, "/v1/vaults/list-by-owner", nil, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Vaults, nil
}

// PullDecrypted pulls the vault's remote snapshot and decrypts it with the
// locally unlocked vault's content key. A snapshot that cannot be
// decrypted is reported as an explicit error, never silently dropped.
func (c *Client) PullDecrypted(ctx context.Context, u *vaultfile.Unlocked) (*payload.VaultPayload, *vaultfile.VaultFile, error) {
	snapshot, found, err := c.Pull(ctx, u.VaultID)
	if err != nil {
		return nil, nil, err
	}
	if !found {
		return nil, nil, nil
	}
	remote, err := vaultfile.Parse(snapshot.EncryptedFile)
	if err != nil {
		return nil, nil, fmt.Errorf("remote snapshot of vault %s is not a valid vault file: %w", u.VaultID, err)
	}
	remotePayload, err := vaultfile.DecryptRemote(u, remote)
	if err != nil {
		return nil, nil, fmt.Errorf("decrypting remote snapshot of vault %s: %w", u.VaultID, err)
	}
	return remotePayload, remote, nil
}

// Push uploads a vault file as a new revision. accepted:false means the
// gateway holds a newer revision; callers re-pull and retry. The
// idempotency key is derived from the file's identity and revision, so a
// network-level retry of the same push replays instead of re-executing.
func (c *Client) Push(ctx context.Context, f *vaultfile.VaultFile) (*wire.PushResponse, error) {
	encoded, err := f.Encode()
	if err != nil {
		return nil, err
	}
	req := wire.PushRequest{
		Revision:      f.Revision,
		UpdatedAt:     f.UpdatedAt,
		EncryptedFile: encoded,
	}
	headers := map[string]string{
		"Idempotency-Key": pushIdempotencyKey(f),
	}
	var resp wire.PushResponse
	if err := c.postJSON(ctx, "/v1/vaults/"+f.VaultID+"/push", headers, req, &resp); err != nil {
		return nil, err
	}
	if !resp.Accepted {
		c.logger.Info("push rejected, newer remote revision exists",
			slog.String("vault", f.VaultID),
			slog.Uint64("local_revision", f.Revision),
			slog.Uint64("remote_revision", resp.Revision),
		)
	}
	return &resp, nil
}

// Delete removes the vault's record from the gateway. The local copy is
// untouched.
func (c *Client) Delete(ctx context.Context, vaultID string) error {
	return c.do(ctx, http.MethodDelete, "/v1/vaults/"+vaultID, nil, nil, nil)
}

func pushIdempotencyKey(f *vaultfile.VaultFile) string {
	return strings.Join([]string{
		f.VaultID,
		strconv.FormatUint(f.Revision, 10),
		f.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}, ":")
}

func (c *Client) postJSON(ctx context.Context, path string, headers map[string]string, body, out any) error {
	return c.do(ctx, http.MethodPost, path, headers, body, out)
}

func (c *Client) do(ctx context.Context, method, path string, headers map[string]string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var gwErr wire.ErrorResponse
		if json.NewDecoder(resp.Body).Decode(&gwErr) == nil && gwErr.Error != "" {
			return fmt.Errorf("gateway: %s (status %d)", gwErr.Error, resp.StatusCode)
		}
		return fmt.Errorf("gateway returned status %d for %s %s", resp.StatusCode, method, path)
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
