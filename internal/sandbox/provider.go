package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	shellquote "github.com/kballard/go-shellquote"

	"github.com/ShayCichocki/coordex/internal/coordexerr"
)

// DefaultAPIKeyEnv is the environment variable CreateSandbox falls back to
// when no API key is passed explicitly.
const DefaultAPIKeyEnv = "E2B_API_KEY"

// Provider is the pluggable remote-sandbox capability. The controller calls
// through this interface for every operation that actually touches a
// remote machine; HTTPProvider is the only implementation this module
// ships, since no example repo in the corpus vendors a remote-sandbox SDK.
type Provider interface {
	Create(ctx context.Context, apiKey string, sessionID string) (remoteID string, err error)
	Upload(ctx context.Context, apiKey, remoteID string, remotePath string, data io.Reader) error
	// Download fetches a tarball of remotePath. When files is non-empty the
	// remote archive command is scoped to just those paths; an empty files
	// list downloads the whole of remotePath.
	Download(ctx context.Context, apiKey, remoteID string, remotePath string, files []string) (io.ReadCloser, error)
	// StatusPorcelain returns the remote workspace's `git status --porcelain`-
	// shaped output, one "XY filename" line per changed file.
	StatusPorcelain(ctx context.Context, apiKey, remoteID string) (string, error)
	Kill(ctx context.Context, apiKey, remoteID string) error
}

// HTTPProvider is a bearer-token HTTP client talking to a configurable
// remote-sandbox API base URL. It is the default Provider implementation.
type HTTPProvider struct {
	BaseURL string
	Client  *http.Client
}

// NewHTTPProvider builds an HTTPProvider against baseURL, defaulting the
// underlying client timeout to 30s per request if client is nil.
func NewHTTPProvider(baseURL string, client *http.Client) *HTTPProvider {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPProvider{BaseURL: baseURL, Client: client}
}

// ResolveAPIKey returns apiKey if non-empty, otherwise DefaultAPIKeyEnv from
// the environment, failing typed if neither is set.
func ResolveAPIKey(apiKey string) (string, error) {
	if apiKey != "" {
		return apiKey, nil
	}
	if env := os.Getenv(DefaultAPIKeyEnv); env != "" {
		return env, nil
	}
	return "", coordexerr.New(coordexerr.KindAuth, "no sandbox API key provided and "+DefaultAPIKeyEnv+" is unset")
}

func (p *HTTPProvider) do(ctx context.Context, method, path, apiKey string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, p.BaseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := p.Client.Do(req)
	if err != nil {
		return nil, coordexerr.Wrap(coordexerr.KindNetwork, "sandbox request failed", err)
	}
	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		resp.Body.Close()
		return nil, coordexerr.New(coordexerr.KindAuth, "sandbox provider rejected credentials")
	case http.StatusTooManyRequests:
		resp.Body.Close()
		return nil, coordexerr.New(coordexerr.KindQuota, "sandbox provider quota exceeded")
	}
	return resp, nil
}

// createResponse is the shape the remote API is expected to return from a
// sandbox creation call.
type createResponse struct {
	SandboxID string `json:"sandbox_id"`
}

func (p *HTTPProvider) Create(ctx context.Context, apiKey string, sessionID string) (string, error) {
	body, _ := json.Marshal(map[string]string{"session_id": sessionID})
	resp, err := p.do(ctx, http.MethodPost, "/sandboxes", apiKey, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var out createResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", coordexerr.Wrap(coordexerr.KindNetwork, "decode sandbox creation response", err)
	}
	return out.SandboxID, nil
}

func (p *HTTPProvider) Upload(ctx context.Context, apiKey, remoteID, remotePath string, data io.Reader) error {
	resp, err := p.do(ctx, http.MethodPut, "/sandboxes/"+remoteID+"/files?path="+remotePath, apiKey, data)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return nil
}

func (p *HTTPProvider) Download(ctx context.Context, apiKey, remoteID, remotePath string, files []string) (io.ReadCloser, error) {
	path := "/sandboxes/" + remoteID + "/files?path=" + remotePath
	if len(files) > 0 {
		// The remote side expects a shell-quoted argument list for its
		// "tar these paths" command, the same way it would be typed at a
		// shell, so paths with spaces or quotes survive the round trip.
		path += "&files=" + url.QueryEscape(shellquote.Join(files...))
	}
	resp, err := p.do(ctx, http.MethodGet, path, apiKey, nil)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

func (p *HTTPProvider) StatusPorcelain(ctx context.Context, apiKey, remoteID string) (string, error) {
	resp, err := p.do(ctx, http.MethodGet, "/sandboxes/"+remoteID+"/status", apiKey, nil)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var out struct {
		Porcelain string `json:"porcelain"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", coordexerr.Wrap(coordexerr.KindNetwork, "decode sandbox status response", err)
	}
	return out.Porcelain, nil
}

func (p *HTTPProvider) Kill(ctx context.Context, apiKey, remoteID string) error {
	resp, err := p.do(ctx, http.MethodDelete, "/sandboxes/"+remoteID, apiKey, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return nil
}
