// SPDX-License-Identifier: MIT

// Package aria2 wraps the external download daemon's JSON-RPC interface and
// exposes URL fetches with streamed progress samples.
package aria2

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Failure classification per the download error taxonomy. The orchestrator
// matches these with errors.Is.
var (
	ErrNotFound     = errors.New("resource not found")
	ErrAccessDenied = errors.New("access denied")
	ErrNetwork      = errors.New("network failure")
)

// Status is the daemon's view of one download job.
type Status struct {
	GID             string
	State           string // active, waiting, complete, error, removed
	CompletedLength int64
	TotalLength     int64
	DownloadSpeed   int64
	ErrorCode       string
	ErrorMessage    string
	FilePath        string
}

// Client talks JSON-RPC 2.0 to the daemon.
type Client struct {
	endpoint string
	secret   string
	http     *http.Client
}

// New creates a client for the daemon at endpoint (e.g.
// "http://localhost:6800/jsonrpc") with an optional shared secret.
func New(endpoint, secret string) *Client {
	return &Client{
		endpoint: endpoint,
		secret:   secret,
		http:     &http.Client{Timeout: 15 * time.Second},
	}
}

type rpcRequest struct {
	Version string `json:"jsonrpc"`
	ID      string `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

func (c *Client) call(ctx context.Context, method string, params []any, out any) error {
	if c.secret != "" {
		params = append([]any{"token:" + c.secret}, params...)
	}
	body, err := json.Marshal(rpcRequest{
		Version: "2.0",
		ID:      uuid.NewString(),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	defer func() { _ = resp.Body.Close() }()

	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return fmt.Errorf("%w: decoding rpc response: %v", ErrNetwork, err)
	}
	if rpcResp.Error != nil {
		return fmt.Errorf("rpc error %d: %s", rpcResp.Error.Code, rpcResp.Error.Message)
	}
	if out != nil {
		if err := json.Unmarshal(rpcResp.Result, out); err != nil {
			return fmt.Errorf("decoding rpc result: %w", err)
		}
	}
	return nil
}

// AddURI enqueues a download. dir, when non-empty, overrides the daemon's
// target directory. Returns the job GID.
func (c *Client) AddURI(ctx context.Context, url, dir string) (string, error) {
	params := []any{[]string{url}}
	if dir != "" {
		params = append(params, map[string]string{"dir": dir})
	}
	var gid string
	if err := c.call(ctx, "aria2.addUri", params, &gid); err != nil {
		return "", fmt.Errorf("addUri: %w", err)
	}
	return gid, nil
}

// tellStatusResult mirrors the daemon's response; numeric fields come over
// the wire as decimal strings.
type tellStatusResult struct {
	GID             string `json:"gid"`
	Status          string `json:"status"`
	CompletedLength string `json:"completedLength"`
	TotalLength     string `json:"totalLength"`
	DownloadSpeed   string `json:"downloadSpeed"`
	ErrorCode       string `json:"errorCode"`
	ErrorMessage    string `json:"errorMessage"`
	Files           []struct {
		Path string `json:"path"`
	} `json:"files"`
}

// TellStatus fetches the current state of a job.
func (c *Client) TellStatus(ctx context.Context, gid string) (Status, error) {
	var raw tellStatusResult
	if err := c.call(ctx, "aria2.tellStatus", []any{gid}, &raw); err != nil {
		return Status{}, fmt.Errorf("tellStatus: %w", err)
	}
	st := Status{
		GID:          raw.GID,
		State:        raw.Status,
		ErrorCode:    raw.ErrorCode,
		ErrorMessage: raw.ErrorMessage,
	}
	st.CompletedLength = parseWireInt(raw.CompletedLength)
	st.TotalLength = parseWireInt(raw.TotalLength)
	st.DownloadSpeed = parseWireInt(raw.DownloadSpeed)
	if len(raw.Files) > 0 {
		st.FilePath = raw.Files[0].Path
	}
	return st, nil
}

// Remove aborts a job.
func (c *Client) Remove(ctx context.Context, gid string) error {
	if err := c.call(ctx, "aria2.remove", []any{gid}, nil); err != nil {
		return fmt.Errorf("remove: %w", err)
	}
	return nil
}

func parseWireInt(s string) int64 {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return v
}
