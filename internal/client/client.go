// Package client is a stateless wrapper around the remote mesh job service.
// Each method maps to one HTTP exchange; no retries happen here.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/seantiz/desolidify/internal/model"
)

const (
	defaultFileName = "model.stl"
	maxErrorBody    = 64 << 10
)

// Config configures a Client. BaseURL is the service root, for example
// "http://localhost:5000/api"; request paths are appended to it.
type Config struct {
	BaseURL    string
	HTTPClient *http.Client
	// Timeout bounds each request when HTTPClient is nil.
	Timeout time.Duration
}

// Upload is a file sent as the multipart "file" field.
type Upload struct {
	Name string
	Data []byte
}

// Client talks to the remote job service.
type Client struct {
	base   string
	http   *http.Client
	logger *slog.Logger
}

type createJobResponse struct {
	JobID string `json:"job_id"`
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// New validates cfg and returns a Client.
func New(cfg Config, logger *slog.Logger) (*Client, error) {
	u, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("base url %q must be http or https", cfg.BaseURL)
	}

	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout}
	}

	return &Client{
		base:   strings.TrimRight(cfg.BaseURL, "/"),
		http:   hc,
		logger: logger,
	}, nil
}

// ParamSpec fetches the parameter specification.
func (c *Client) ParamSpec(ctx context.Context) (model.ParamSpec, error) {
	var spec model.ParamSpec
	if err := c.getJSON(ctx, opParamSpec, "/meta/params", &spec); err != nil {
		return nil, err
	}
	if spec == nil {
		spec = model.ParamSpec{}
	}
	return spec, nil
}

// Presets fetches the named parameter presets.
func (c *Client) Presets(ctx context.Context) (model.PresetSet, error) {
	var presets model.PresetSet
	if err := c.getJSON(ctx, opPresets, "/meta/presets", &presets); err != nil {
		return nil, err
	}
	if presets == nil {
		presets = model.PresetSet{}
	}
	return presets, nil
}

// CreateJob uploads file with params and an optional preset name and returns
// the server-issued job id.
func (c *Client) CreateJob(ctx context.Context, file Upload, params model.ParamValues, preset string) (string, error) {
	body, contentType, err := encodeForm(file, params, preset)
	if err != nil {
		return "", err
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/jobs", body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", contentType)

	var out createJobResponse
	if err := c.doJSON(req, opCreateJob, &out); err != nil {
		return "", err
	}
	if out.JobID == "" {
		return "", &TransportError{Op: opCreateJob, Message: "server response missing job_id"}
	}
	return out.JobID, nil
}

// JobStatus fetches the current status of a job.
func (c *Client) JobStatus(ctx context.Context, jobID string) (model.JobStatus, error) {
	var st model.JobStatus
	if err := c.getJSON(ctx, opJobStatus, "/jobs/"+url.PathEscape(jobID), &st); err != nil {
		return model.JobStatus{}, err
	}
	return st, nil
}

// JobResult downloads the processed mesh. A 202 answer yields a *NotReadyError
// carrying the server's error or message text.
func (c *Client) JobResult(ctx context.Context, jobID string) ([]byte, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/jobs/"+url.PathEscape(jobID)+"/result", nil)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, c.netError(opJobResult, start, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusAccepted {
		observe(opJobResult, outcomeNotReady, start)
		msg := "Result not ready"
		var eb errorBody
		if raw, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody)); err == nil && json.Unmarshal(raw, &eb) == nil {
			if eb.Error != "" {
				msg = eb.Error
			} else if eb.Message != "" {
				msg = eb.Message
			}
		}
		return nil, &NotReadyError{JobID: jobID, Message: msg}
	}

	return c.readBinary(resp, opJobResult, start)
}

// CancelAll asks the server to cancel every outstanding job for this session.
func (c *Client) CancelAll(ctx context.Context) error {
	req, err := c.newRequest(ctx, http.MethodDelete, "/jobs", nil)
	if err != nil {
		return err
	}
	return c.doJSON(req, opCancelAll, nil)
}

// Preview runs a quick coarse pass over file and returns the resulting mesh.
// Callers are expected to have forced fast mode in params.
func (c *Client) Preview(ctx context.Context, file Upload, params model.ParamValues) ([]byte, error) {
	body, contentType, err := encodeForm(file, params, "")
	if err != nil {
		return nil, err
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/preview", body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentType)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, c.netError(opPreview, start, err)
	}
	defer resp.Body.Close()

	return c.readBinary(resp, opPreview, start)
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return nil, fmt.Errorf("build %s %s: %w", method, path, err)
	}
	return req, nil
}

func (c *Client) getJSON(ctx context.Context, op, path string, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	return c.doJSON(req, op, out)
}

// doJSON sends req and decodes a JSON body into out. Non-JSON success bodies
// are discarded; out may be nil.
func (c *Client) doJSON(req *http.Request, op string, out any) error {
	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return c.netError(op, start, err)
	}
	defer resp.Body.Close()

	if !isSuccess(resp.StatusCode) {
		return c.httpError(resp, op, start)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return c.netError(op, start, fmt.Errorf("read body: %w", err))
	}
	observe(op, outcomeOK, start)

	if out == nil || !isJSON(resp.Header.Get("Content-Type")) {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &TransportError{Op: op, Status: resp.StatusCode, Message: fmt.Sprintf("invalid JSON response: %v", err), Err: err}
	}
	return nil
}

// readBinary returns the body of a successful binary response. A JSON body on
// a binary endpoint is treated as a server-side error report.
func (c *Client) readBinary(resp *http.Response, op string, start time.Time) ([]byte, error) {
	if !isSuccess(resp.StatusCode) {
		return nil, c.httpError(resp, op, start)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, c.netError(op, start, fmt.Errorf("read body: %w", err))
	}

	if isJSON(resp.Header.Get("Content-Type")) {
		observe(op, outcomeHTTPError, start)
		msg := "unexpected JSON response"
		var eb errorBody
		if json.Unmarshal(raw, &eb) == nil {
			if eb.Error != "" {
				msg = eb.Error
			} else if eb.Message != "" {
				msg = eb.Message
			}
		}
		return nil, &TransportError{Op: op, Status: resp.StatusCode, Message: msg}
	}

	observe(op, outcomeOK, start)
	return raw, nil
}

func (c *Client) httpError(resp *http.Response, op string, start time.Time) error {
	observe(op, outcomeHTTPError, start)

	msg := httpStatusMessage(resp.StatusCode)
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err == nil {
		var eb errorBody
		if json.Unmarshal(raw, &eb) == nil && eb.Error != "" {
			msg = eb.Error
		}
	}

	c.logger.Debug("job service error", "op", op, "status", resp.StatusCode, "error", msg)
	return &TransportError{Op: op, Status: resp.StatusCode, Message: msg}
}

func (c *Client) netError(op string, start time.Time, err error) error {
	observe(op, outcomeNetError, start)
	msg := err.Error()
	var ue *url.Error
	if errors.As(err, &ue) {
		msg = ue.Err.Error()
	}
	return &TransportError{Op: op, Message: msg, Err: err}
}

func observe(op, outcome string, start time.Time) {
	requestsTotal.WithLabelValues(op, outcome).Inc()
	requestDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func encodeForm(file Upload, params model.ParamValues, preset string) (io.Reader, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	name := file.Name
	if name == "" {
		name = defaultFileName
	}
	fw, err := mw.CreateFormFile("file", name)
	if err != nil {
		return nil, "", fmt.Errorf("create file part: %w", err)
	}
	if _, err := fw.Write(file.Data); err != nil {
		return nil, "", fmt.Errorf("write file part: %w", err)
	}

	if params != nil {
		encoded, err := json.Marshal(params)
		if err != nil {
			return nil, "", fmt.Errorf("encode params: %w", err)
		}
		if err := mw.WriteField("params", string(encoded)); err != nil {
			return nil, "", fmt.Errorf("write params field: %w", err)
		}
	}
	if preset != "" {
		if err := mw.WriteField("preset", preset); err != nil {
			return nil, "", fmt.Errorf("write preset field: %w", err)
		}
	}

	if err := mw.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart: %w", err)
	}
	return &buf, mw.FormDataContentType(), nil
}

func isSuccess(status int) bool {
	return status >= 200 && status < 300
}

func isJSON(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.Contains(contentType, "application/json")
	}
	return mt == "application/json" || strings.HasSuffix(mt, "+json")
}
