// Package httpscorer talks to a remote scoring backend over JSON/HTTP.
package httpscorer

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/spigell/hh-matcher/internal/backend"
	"github.com/spigell/hh-matcher/internal/resilience"
	"github.com/spigell/hh-matcher/internal/utils"
)

const (
	contentType     = "application/json"
	contentEncoding = "gzip"
	userAgent       = "spigell/hh-matcher"
	scorePath       = "/score"

	// maxErrorBody bounds how much of an error body ends up in logs.
	maxErrorBody = 300
)

type Client struct {
	name       string
	baseURL    string
	token      string
	logger     *zap.Logger
	HTTPClient *http.Client
	UserAgent  string
}

// New returns a client for the backend at baseURL. The token is optional;
// when set it is sent as a bearer token.
func New(name, baseURL, token string, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		name:    name,
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		token:   strings.TrimSpace(token),
		logger:  logger,
		HTTPClient: &http.Client{
			// per-attempt deadlines come from the caller's context
			Timeout: 10 * time.Second,
		},
		UserAgent: userAgent,
	}
}

type scoreRequest struct {
	Candidate map[string]any  `json:"candidate"`
	Job       map[string]any  `json:"job"`
	Options   backend.Options `json:"options"`
}

type scoreResponse struct {
	Scores      map[string]float64  `json:"scores"`
	Overall     *float64            `json:"overall"`
	Explanation backend.Explanation `json:"explanation"`
}

// Score posts the candidate/job pair to {baseURL}/score.
func (c *Client) Score(ctx context.Context, req backend.Request) (*backend.ScoreResult, error) {
	payload, err := json.Marshal(scoreRequest{
		Candidate: req.Candidate,
		Job:       req.Job,
		Options:   req.Options,
	})
	if err != nil {
		return nil, resilience.Permanent("request", fmt.Sprintf("profiles are not JSON encodable: %v", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+scorePath, bytes.NewReader(payload))
	if err != nil {
		return nil, &resilience.ResponseError{Backend: c.name, Message: "building request", Err: err}
	}

	httpReq = c.setHeaders(httpReq)
	httpReq.Header.Set("Content-Type", contentType)

	resp, err := c.request(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, resilience.Transient(c.name, err)
	}
	defer resp.Body.Close()

	data, err := readBody(resp)
	if err != nil {
		return nil, resilience.Transient(c.name, fmt.Errorf("reading response body: %w", err))
	}

	if err := c.checkStatus(resp, data); err != nil {
		return nil, err
	}

	var decoded scoreResponse
	if err := json.Unmarshal(data, &decoded); err != nil {
		return nil, &resilience.ResponseError{Backend: c.name, Message: "decoding response", Err: err}
	}

	return backend.NewScoreResult(decoded.Scores, decoded.Overall, decoded.Explanation), nil
}

// checkStatus maps HTTP statuses onto the resilience error classes.
func (c *Client) checkStatus(resp *http.Response, body []byte) error {
	if resp.StatusCode == http.StatusOK {
		return nil
	}

	statusErr := fmt.Errorf("bad status: %s: %s", resp.Status, utils.TruncateForLog(string(body), maxErrorBody))

	switch {
	case resp.StatusCode == http.StatusRequestTimeout,
		resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode >= http.StatusInternalServerError:
		return resilience.Transient(c.name, statusErr)
	case resp.StatusCode == http.StatusBadRequest,
		resp.StatusCode == http.StatusUnprocessableEntity:
		return &resilience.PermanentInputError{
			Field:  inputField(body),
			Reason: fmt.Sprintf("rejected by %s", c.name),
			Err:    statusErr,
		}
	default:
		return &resilience.ResponseError{Backend: c.name, Message: "unexpected status", Err: statusErr}
	}
}

// inputField extracts {"field": "..."} from an error body when present.
func inputField(body []byte) string {
	var payload struct {
		Field string `json:"field"`
	}
	if err := json.Unmarshal(body, &payload); err != nil || payload.Field == "" {
		return "request"
	}
	return payload.Field
}

func (c *Client) request(req *http.Request) (*http.Response, error) {
	c.logger.Debug("make request", zap.String("url", req.URL.String()))
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}

	return resp, nil
}

func (c *Client) setHeaders(req *http.Request) *http.Request {
	if c.token != "" {
		req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.token))
	}
	req.Header.Set("User-Agent", c.UserAgent)
	req.Header.Set("Accept", contentType)
	req.Header.Set("Accept-Encoding", contentEncoding)

	return req
}

func readBody(resp *http.Response) ([]byte, error) {
	var reader io.Reader = resp.Body
	if resp.Header.Get("Content-Encoding") == "gzip" {
		gzipReader, err := gzip.NewReader(resp.Body)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, nil
			}
			return nil, err
		}
		defer gzipReader.Close()
		reader = gzipReader
	}

	return io.ReadAll(reader)
}
