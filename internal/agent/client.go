// Package agent is the HTTP client for the remote conversational agent.
//
// Protocol: POST a JSON body {"message": ..., "type": "phonebot"|"customerbot"}
// and read {"response": ...}. Some deployments answer with a bare JSON
// string instead; both are accepted. Any non-2xx status is a failure.
package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/GriffinCanCode/voicechat/internal/errors"
	"github.com/GriffinCanCode/voicechat/internal/resilience"
	"github.com/GriffinCanCode/voicechat/internal/trace"
)

const (
	DefaultTimeout = 30 * time.Second
	maxReplyBytes  = 1 << 20
)

// Request is the wire body sent to the agent.
type Request struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

// Response is the standard wire reply.
type Response struct {
	Response *string `json:"response"`
}

// Config configures a Client.
type Config struct {
	URL        string
	Timeout    time.Duration
	Breaker    resilience.Config
	HTTPClient *http.Client
	// OnBreakerChange observes circuit state changes.
	OnBreakerChange func(from, to resilience.State)
}

// Client posts utterances to the agent endpoint. Each Send is a single
// attempt; the breaker only short-circuits while the endpoint keeps failing.
type Client struct {
	url     string
	http    *http.Client
	breaker *resilience.Breaker
}

// New creates a client.
func New(cfg Config) *Client {
	hc := cfg.HTTPClient
	if hc == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		hc = &http.Client{Timeout: timeout}
	}
	bcfg := cfg.Breaker
	if bcfg.IsFailure == nil {
		bcfg.IsFailure = countsAgainstBreaker
	}
	b := resilience.New(bcfg)
	if cfg.OnBreakerChange != nil {
		b.WithHook(cfg.OnBreakerChange)
	}
	return &Client{url: cfg.URL, http: hc, breaker: b}
}

// Send posts message with the given mode and returns the reply text.
func (c *Client) Send(ctx context.Context, message, mode string) (string, error) {
	ctx, span := trace.StartSpan(ctx, "agent_send")
	defer span.End()
	span.SetAttr("mode", mode)
	span.SetAttr("message_len", len(message))

	reply, err := resilience.ExecuteWithResult(c.breaker, func() (string, error) {
		return c.post(ctx, Request{Message: message, Type: mode})
	})
	if err != nil {
		span.RecordError(err)
		return "", err
	}
	span.SetAttr("reply_len", len(reply))
	trace.Logger(ctx).Debug("agent replied", "mode", mode, "reply_len", len(reply))
	return reply, nil
}

// BreakerState exposes the circuit state for health reporting.
func (c *Client) BreakerState() resilience.State {
	return c.breaker.State()
}

func (c *Client) post(ctx context.Context, body Request) (string, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.CodeInternal, "encode agent request")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.CodeInvalidArgument, "build agent request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	trace.Inject(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", classifyTransport(ctx, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxReplyBytes))
	if err != nil {
		return "", classifyTransport(ctx, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", apperrors.Newf(apperrors.CodeAgentStatus, "agent returned status %d", resp.StatusCode).
			WithMetadata("status", strconv.Itoa(resp.StatusCode))
	}
	return DecodeReply(data)
}

// DecodeReply extracts the reply text from either accepted body shape.
func DecodeReply(data []byte) (string, error) {
	var text string
	var obj Response
	switch {
	case json.Unmarshal(data, &obj) == nil && obj.Response != nil:
		text = *obj.Response
	case json.Unmarshal(data, &text) == nil:
	default:
		return "", apperrors.New(apperrors.CodeAgentMalformedReply, "agent reply is neither {\"response\": string} nor a JSON string")
	}
	if strings.TrimSpace(text) == "" {
		return "", apperrors.New(apperrors.CodeAgentEmptyReply, "agent reply has no text")
	}
	return text, nil
}

func classifyTransport(ctx context.Context, err error) error {
	switch {
	case errors.Is(ctx.Err(), context.Canceled):
		return apperrors.Wrap(context.Canceled, apperrors.CodeCancelled, "agent request cancelled")
	case errors.Is(ctx.Err(), context.DeadlineExceeded), isTimeout(err):
		return apperrors.Wrap(err, apperrors.CodeTimeout, "agent request timed out")
	default:
		return apperrors.Wrap(err, apperrors.CodeAgentNetwork, "agent request failed")
	}
}

func isTimeout(err error) bool {
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}

// countsAgainstBreaker trips the breaker on unreachable or failing
// endpoints, not on cancellations or odd payloads.
func countsAgainstBreaker(err error) bool {
	switch apperrors.CodeOf(err) {
	case apperrors.CodeAgentNetwork, apperrors.CodeTimeout:
		return true
	case apperrors.CodeAgentStatus:
		appErr, _ := apperrors.As(err)
		status, _ := strconv.Atoi(appErr.Metadata["status"])
		return status >= 500
	default:
		return false
	}
}
