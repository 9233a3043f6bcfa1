// Package remote implements queue.Provider against the front desk HTTP API.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ehr/clinicqueue/internal/domain/queue"
)

const maxErrorBody = 4 << 10

// TokenSource supplies the bearer token of the current staff session.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a fixed bearer token.
type StaticToken string

func (t StaticToken) Token(context.Context) (string, error) {
	return string(t), nil
}

// Client is a queue.Provider backed by the front desk API.
type Client struct {
	baseURL string
	tokens  TokenSource
	http    *http.Client
	timeout time.Duration
	logger  zerolog.Logger
}

// NewClient returns a client for the API rooted at baseURL. timeout bounds
// every request that does not already carry a shorter deadline.
func NewClient(baseURL string, tokens TokenSource, timeout time.Duration, logger zerolog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		tokens:  tokens,
		http:    &http.Client{},
		timeout: timeout,
		logger:  logger.With().Str("component", "remote").Logger(),
	}
}

var _ queue.Provider = (*Client)(nil)

// TransientError is a failure worth retrying on the next cycle: a network
// error, a timeout or a 5xx response.
type TransientError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *TransientError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: upstream status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

type queuesResponse struct {
	Queues []queue.Entry `json:"queues"`
}

type doctorsResponse struct {
	Doctors []queue.Doctor `json:"doctors"`
}

// TodayQueue reads the queue and the doctor roster concurrently.
func (c *Client) TodayQueue(ctx context.Context) (*queue.TodayQueue, error) {
	var qr queuesResponse
	var dr doctorsResponse
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return c.do(gctx, http.MethodGet, "/staff/today-queues", nil, &qr)
	})
	g.Go(func() error {
		return c.do(gctx, http.MethodGet, "/staff/doctors-on-duty", nil, &dr)
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &queue.TodayQueue{Entries: qr.Queues, Doctors: dr.Doctors}, nil
}

// TreatmentProfile reads one patient's treatment profile. A body that is not
// a JSON object yields queue.ErrMalformedProfile.
func (c *Client) TreatmentProfile(ctx context.Context, userID int64) (*queue.TreatmentProfile, error) {
	var raw json.RawMessage
	path := "/staff/enhanced-patient-data/" + strconv.FormatInt(userID, 10)
	if err := c.do(ctx, http.MethodGet, path, nil, &raw); err != nil {
		return nil, err
	}
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, queue.ErrMalformedProfile
	}
	var p queue.TreatmentProfile
	if err := json.Unmarshal(trimmed, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", queue.ErrMalformedProfile, err)
	}
	return &p, nil
}

func (c *Client) UpdateStatus(ctx context.Context, u queue.StatusUpdate) (*queue.Entry, error) {
	var resp struct {
		Queue *queue.Entry `json:"queue"`
	}
	if err := c.do(ctx, http.MethodPost, "/staff/update-queue-status", u, &resp); err != nil {
		return nil, err
	}
	return resp.Queue, nil
}

type queueIDRequest struct {
	QueueID int64 `json:"queue_id"`
}

type skipRequest struct {
	QueueID   int64 `json:"queue_id"`
	Positions int   `json:"positions"`
}

func (c *Client) Skip(ctx context.Context, queueID int64, positions int) error {
	return c.do(ctx, http.MethodPost, "/staff/skip-queue", skipRequest{QueueID: queueID, Positions: positions}, nil)
}

func (c *Client) Prioritize(ctx context.Context, queueID int64) error {
	return c.do(ctx, http.MethodPost, "/staff/prioritize-emergency-patient", queueIDRequest{QueueID: queueID}, nil)
}

func (c *Client) SendToEmergency(ctx context.Context, queueID int64) error {
	return c.do(ctx, http.MethodPost, "/staff/send-to-emergency", queueIDRequest{QueueID: queueID}, nil)
}

func (c *Client) StartQueue(ctx context.Context) ([]queue.Entry, error) {
	var resp struct {
		Started []queue.Entry `json:"started"`
	}
	if err := c.do(ctx, http.MethodPost, "/staff/start-queue", struct{}{}, &resp); err != nil {
		return nil, err
	}
	return resp.Started, nil
}

func (c *Client) UpdateEmergencyStatuses(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/staff/update-emergency-statuses", struct{}{}, nil)
}

// do sends one request and decodes a 2xx body into out. Non-2xx responses
// are classified into the queue error taxonomy.
func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	op := method + " " + path
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%s: encode request: %w", op, err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.tokens != nil {
		token, err := c.tokens.Token(ctx)
		if err != nil {
			return fmt.Errorf("%s: %w: %v", op, queue.ErrUnauthorized, err)
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return &TransientError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	c.logger.Debug().
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Dur("latency", time.Since(start)).
		Msg("remote call")

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil {
			_, _ = io.Copy(io.Discard, resp.Body)
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("%s: decode response: %w", op, err)
		}
		return nil
	}

	msg := errorMessage(resp)
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%s: %w: %s", op, queue.ErrUnauthorized, msg)
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%s: %w: %s", op, queue.ErrNotFound, msg)
	case resp.StatusCode >= 500:
		return &TransientError{Op: op, StatusCode: resp.StatusCode, Err: errors.New(msg)}
	default:
		return &queue.RejectionError{StatusCode: resp.StatusCode, Message: msg}
	}
}

// errorMessage extracts {"error": ...} or {"message": ...} from an error body,
// falling back to the status text.
func errorMessage(resp *http.Response) string {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(b, &body) == nil {
		if body.Error != "" {
			return body.Error
		}
		if body.Message != "" {
			return body.Message
		}
	}
	if s := strings.TrimSpace(string(b)); s != "" && len(s) < 200 {
		return s
	}
	return http.StatusText(resp.StatusCode)
}
