// Package httpexec is an ExecutionBackend that delegates uploads to a driver
// service over HTTP. One driver service fronts one kind: a browser-automation
// sidecar or a private-API gateway; either speaks the same small REST
// contract (sessions, uploads, session state).
package httpexec

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/upcast/upcast/backend"
	"github.com/upcast/upcast/config"
	"github.com/upcast/upcast/failure"
	"github.com/upcast/upcast/job"
	"github.com/upcast/upcast/logging/logger"
	"github.com/upcast/upcast/storage"
)

// Executor delegates one backend kind to a remote driver service.
type Executor struct {
	kind    backend.Kind
	baseURL string
	client  *http.Client
	assets  *storage.AssetStore
}

type handle struct {
	kind      backend.Kind
	accountID string
	sessionID string
}

func (h *handle) Kind() backend.Kind { return h.kind }
func (h *handle) AccountID() string  { return h.accountID }

func New(kind backend.Kind, drv *config.Driver, assets *storage.AssetStore) *Executor {
	return &Executor{
		kind:    kind,
		baseURL: drv.URL,
		client:  &http.Client{Timeout: drv.Timeout},
		assets:  assets,
	}
}

func (e *Executor) Kind() backend.Kind { return e.kind }

// Prepare opens a driver session for the account. The driver restores the
// session snapshot when one is supplied; otherwise it logs in fresh with the
// account's secrets.
func (e *Executor) Prepare(ctx context.Context, account job.AccountRef, proxy job.ProxyRef, blob *job.SessionBlob) (backend.Handle, error) {
	body := map[string]any{
		"account_id": account.ID,
		"secrets":    account.Secrets,
		"proxy_url":  proxy.URL,
	}
	if blob != nil {
		body["session"] = blob.Payload
	}

	var out struct {
		SessionID string `json:"session_id"`
	}
	if err := e.call(ctx, http.MethodPost, "/sessions", body, &out); err != nil {
		return nil, err
	}
	logger.Debugf(ctx, "%s driver session %s opened for account %s", e.kind, out.SessionID, account.ID)
	return &handle{kind: e.kind, accountID: account.ID, sessionID: out.SessionID}, nil
}

// Execute streams one asset through the driver session. The asset payload is
// read from the asset store and forwarded raw; metadata travels in headers.
func (e *Executor) Execute(ctx context.Context, h backend.Handle, asset job.Asset) job.ExecutionResult {
	hd, ok := h.(*handle)
	if !ok {
		return e.result(h, asset, failure.ConfigurationError, "foreign handle")
	}

	rc, err := e.assets.Open(asset)
	if err != nil {
		return e.result(h, asset, failure.ConfigurationError, fmt.Sprintf("open asset: %v", err))
	}
	defer rc.Close()

	url := fmt.Sprintf("%s/sessions/%s/uploads", e.baseURL, hd.sessionID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, rc)
	if err != nil {
		return e.result(h, asset, failure.ConfigurationError, err.Error())
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("X-Asset-Id", asset.ID)
	req.Header.Set("X-Asset-Title", asset.Title)
	req.Header.Set("X-Asset-Caption", asset.Caption)

	resp, err := e.client.Do(req)
	if err != nil {
		return e.result(h, asset, classifyTransport(err), err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return job.ExecutionResult{
			AssetID:   asset.ID,
			Outcome:   job.OutcomeSuccess,
			Timestamp: time.Now(),
		}
	}

	detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return e.result(h, asset, classifyStatus(resp.StatusCode), fmt.Sprintf("driver status %d: %s", resp.StatusCode, detail))
}

// ExportSession snapshots the driver session's device and credential state.
func (e *Executor) ExportSession(ctx context.Context, h backend.Handle) (*job.SessionBlob, error) {
	hd, ok := h.(*handle)
	if !ok {
		return nil, failure.New(failure.ConfigurationError, "foreign handle")
	}

	var out struct {
		State json.RawMessage `json:"state"`
	}
	if err := e.call(ctx, http.MethodGet, "/sessions/"+hd.sessionID+"/state", nil, &out); err != nil {
		return nil, err
	}
	return &job.SessionBlob{
		AccountID: hd.accountID,
		Payload:   out.State,
	}, nil
}

// ImportSession installs a snapshot on the driver so the next Prepare for the
// account resumes it instead of logging in fresh.
func (e *Executor) ImportSession(ctx context.Context, account job.AccountRef, blob *job.SessionBlob) error {
	body := map[string]any{"state": blob.Payload}
	return e.call(ctx, http.MethodPut, "/accounts/"+account.ID+"/state", body, nil)
}

func (e *Executor) Close(ctx context.Context, h backend.Handle) error {
	hd, ok := h.(*handle)
	if !ok {
		return nil
	}
	return e.call(ctx, http.MethodDelete, "/sessions/"+hd.sessionID, nil, nil)
}

// call performs one JSON request against the driver and decodes the response
// into out when non-nil. Non-2xx statuses come back as classified failures.
func (e *Executor) call(ctx context.Context, method, path string, body any, out any) error {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return failure.Wrap(failure.ConfigurationError, err)
		}
		rd = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, e.baseURL+path, rd)
	if err != nil {
		return failure.Wrap(failure.ConfigurationError, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return failure.Wrap(classifyTransport(err), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return failure.New(classifyStatus(resp.StatusCode), "driver %s %s: status %d: %s", method, path, resp.StatusCode, detail)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (e *Executor) result(h backend.Handle, asset job.Asset, kind failure.Kind, detail string) job.ExecutionResult {
	outcome := job.OutcomeTerminalFailure
	if kind.Retryable() {
		outcome = job.OutcomeRetryableFailure
	}
	return job.ExecutionResult{
		AssetID:   asset.ID,
		Outcome:   outcome,
		ErrorKind: kind,
		Detail:    detail,
		Timestamp: time.Now(),
	}
}

// classifyStatus maps a driver HTTP status onto the failure taxonomy.
func classifyStatus(status int) failure.Kind {
	switch {
	case status == http.StatusTooManyRequests:
		return failure.RateLimited
	case status == http.StatusUnauthorized:
		return failure.SessionInvalid
	case status == http.StatusForbidden:
		return failure.AccountBlocked
	case status == http.StatusGone || status == http.StatusServiceUnavailable:
		return failure.ResourceUnavailable
	case status >= 500 || status == http.StatusRequestTimeout:
		return failure.TransientNetwork
	default:
		return failure.ConfigurationError
	}
}

func classifyTransport(err error) failure.Kind {
	return failure.Classify(err)
}
