// Package client is a thin HTTP wrapper around the orchestrator's REST API: it
// owns request/response JSON handling, a refreshable auth header and mapping of
// transport/HTTP outcomes onto the schedulererrors taxonomy. It is grounded on
// the teacher's internal/executor/healthmonitor/etcd.go worker-plus-shared-cell
// pattern for the auth refresh, and reuses hashicorp/go-retryablehttp for the
// underlying transport the way the teacher pulls it in as an indirect dependency
// of its own HTTP stack.
package client

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/pkg/errors"

	"github.com/waiter-project/scheduler/internal/common/armadacontext"
	"github.com/waiter-project/scheduler/internal/common/task"
	"github.com/waiter-project/scheduler/internal/scheduler/schedulererrors"
)

// TokenRefreshFunc produces a fresh bearer token; configured as
// authentication.action-fn.
type TokenRefreshFunc func(ctx *armadacontext.Context) (string, error)

// Options configures connect/socket timeouts, matching spec http-options.
type Options struct {
	ConnTimeout   time.Duration
	SocketTimeout time.Duration
}

// Client is the orchestrator HTTP client. The zero value is not usable; build
// one with New.
type Client struct {
	baseURL    string
	httpClient *http.Client
	token      atomic.Pointer[string]
}

// New constructs a Client. If refresh is non-nil it is invoked immediately and
// then registered on taskManager to run every refreshInterval, keeping the
// atomic token cell current without callers ever taking a lock.
func New(baseURL string, options Options, refresh TokenRefreshFunc, refreshInterval time.Duration, taskManager *task.BackgroundTaskManager) *Client {
	transport := retryablehttp.NewClient()
	transport.Logger = nil
	transport.RetryMax = 3
	transport.HTTPClient.Timeout = options.SocketTimeout
	transport.HTTPClient.Transport = &http.Transport{
		DialContext: (&net.Dialer{Timeout: options.ConnTimeout}).DialContext,
	}

	c := &Client{
		baseURL:    baseURL,
		httpClient: transport.StandardClient(),
	}

	if refresh != nil {
		refreshOnce := func(ctx *armadacontext.Context) {
			token, err := refresh(ctx)
			if err != nil {
				ctx.Log.Errorf("failed to refresh orchestrator auth token: %s", err)
				return
			}
			c.token.Store(&token)
		}
		refreshOnce(armadacontext.Background())
		if taskManager != nil {
			taskManager.Register(refreshOnce, refreshInterval, "auth_refresh")
		}
	}

	return c
}

func (c *Client) authHeader() string {
	tok := c.token.Load()
	if tok == nil {
		return ""
	}
	return "Bearer " + *tok
}

// Request issues method against url (relative to baseURL) with an optional
// JSON body, decoding a successful response into out (may be nil to discard
// the body). Non-2xx responses and transport failures are classified into the
// schedulererrors taxonomy per spec: 400 -> Malformed, 404 -> NotFound,
// 409 -> Conflict, 401/403 -> AuthFailed, everything else -> OtherError,
// transport failures -> TransportError.
func (c *Client) Request(ctx *armadacontext.Context, method, url string, body []byte, contentType string, out interface{}) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+url, reader)
	if err != nil {
		return errors.WithStack(&schedulererrors.InternalError{Message: err.Error()})
	}
	if body != nil {
		if contentType == "" {
			contentType = "application/json"
		}
		req.Header.Set("Content-Type", contentType)
	}
	if h := c.authHeader(); h != "" {
		req.Header.Set("Authorization", h)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.WithStack(&schedulererrors.TransportError{Cause: err})
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.WithStack(&schedulererrors.TransportError{Cause: err})
	}

	if err := classifyStatus(resp.StatusCode, respBody); err != nil {
		return err
	}

	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return errors.WithStack(&schedulererrors.MalformedError{Message: "decoding response: " + err.Error()})
		}
	}
	return nil
}

func classifyStatus(status int, body []byte) error {
	if status >= 200 && status < 300 {
		return nil
	}
	switch status {
	case http.StatusBadRequest:
		return errors.WithStack(&schedulererrors.MalformedError{Message: string(body)})
	case http.StatusNotFound:
		return errors.WithStack(&schedulererrors.NotFoundError{Message: string(body)})
	case http.StatusConflict:
		return errors.WithStack(&schedulererrors.ConflictError{Message: string(body)})
	case http.StatusUnauthorized, http.StatusForbidden:
		return errors.WithStack(&schedulererrors.AuthFailedError{Message: string(body)})
	default:
		return errors.WithStack(&schedulererrors.OtherError{Status: status, Message: string(body)})
	}
}

// WatchEvent is one item off a streamed watch body: {type, object}.
type WatchEvent struct {
	Type   string          `json:"type"`
	Object json.RawMessage `json:"object"`
}

// Stream opens a long-lived GET against url and decodes newline-delimited
// JSON watch events onto the returned channel until EOF, ctx cancellation, or
// a transport error, at which point the channel is closed. The caller is
// expected to be a dedicated worker per spec.md 4.3; there is no backpressure
// handling beyond the channel's buffer because there is exactly one consumer.
func (c *Client) Stream(ctx *armadacontext.Context, url string) (<-chan WatchEvent, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+url, nil)
	if err != nil {
		return nil, errors.WithStack(&schedulererrors.InternalError{Message: err.Error()})
	}
	if h := c.authHeader(); h != "" {
		req.Header.Set("Authorization", h)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.WithStack(&schedulererrors.TransportError{Cause: err})
	}
	if err := classifyStatus(resp.StatusCode, nil); err != nil {
		resp.Body.Close()
		return nil, err
	}

	events := make(chan WatchEvent, 64)
	go func() {
		defer close(events)
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
		for scanner.Scan() {
			line := scanner.Bytes()
			if len(bytes.TrimSpace(line)) == 0 {
				continue
			}
			var event WatchEvent
			if err := json.Unmarshal(line, &event); err != nil {
				ctx.Log.Warnf("discarding malformed watch event: %s", err)
				continue
			}
			select {
			case events <- event:
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil {
			ctx.Log.Warnf("watch stream %s ended: %s", url, err)
		}
	}()

	return events, nil
}
