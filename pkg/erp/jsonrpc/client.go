// Package jsonrpc implements the ERP adapter for Odoo's /jsonrpc endpoint.
// All traffic is JSON-RPC 2.0 over HTTP: "common" service calls for
// authentication and version, "object" service execute_kw calls for
// everything else.
package jsonrpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/modforge-io/modforge-platform/pkg/config"
	"github.com/modforge-io/modforge-platform/pkg/logging"
)

// DefaultTimeout is the maximum time to wait for ERP responses when the
// configuration does not specify one.
const DefaultTimeout = 30 * time.Second

// DefaultPageSize bounds search_read pages when the configuration does not
// specify one.
const DefaultPageSize = 200

// Client speaks JSON-RPC 2.0 to one Odoo database.
type Client struct {
	httpClient *http.Client
	endpoint   string
	database   string
	login      string
	password   string
	pageSize   int
	logger     *zap.Logger

	reqID atomic.Int64

	authMu sync.Mutex
	uid    int
}

// NewClient creates a client for the configured ERP instance. No connection
// is made until the first call.
func NewClient(cfg *config.ERPConfig, logger *zap.Logger) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("ERP endpoint not configured")
	}

	endpoint, err := buildURL(cfg.Endpoint, "jsonrpc")
	if err != nil {
		return nil, fmt.Errorf("invalid ERP endpoint: %w", err)
	}

	timeout := DefaultTimeout
	if cfg.RPCTimeoutSeconds > 0 {
		timeout = time.Duration(cfg.RPCTimeoutSeconds) * time.Second
	}

	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}

	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		endpoint:   endpoint,
		database:   cfg.Database,
		login:      cfg.Login,
		password:   cfg.Password,
		pageSize:   pageSize,
		logger:     logger.Named("erp.jsonrpc"),
	}, nil
}

// RPCError is an application-level error returned inside a JSON-RPC
// response envelope.
type RPCError struct {
	Code      int
	Message   string
	Exception string // server-side exception class, e.g. "odoo.exceptions.ValidationError"
	Detail    string
}

func (e *RPCError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("erp rpc error %d: %s: %s", e.Code, e.Message, e.Detail)
	}
	return fmt.Sprintf("erp rpc error %d: %s", e.Code, e.Message)
}

// IsRetryable reports whether the failure can clear on retry. Database
// concurrency and connection faults do; validation and access faults are
// permanent.
func (e *RPCError) IsRetryable() bool {
	exception := strings.ToLower(e.Exception)
	if strings.Contains(exception, "operationalerror") || strings.Contains(exception, "serializationfailure") {
		return true
	}
	return strings.Contains(strings.ToLower(e.Detail), "could not serialize access")
}

type rpcRequest struct {
	JSONRPC string    `json:"jsonrpc"`
	Method  string    `json:"method"`
	Params  rpcParams `json:"params"`
	ID      int64     `json:"id"`
}

type rpcParams struct {
	Service string `json:"service"`
	Method  string `json:"method"`
	Args    []any  `json:"args"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *rpcErrorBody   `json:"error"`
}

type rpcErrorBody struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    struct {
		Name    string `json:"name"`
		Message string `json:"message"`
	} `json:"data"`
}

// call performs one JSON-RPC request against the given service.
func (c *Client) call(ctx context.Context, service, method string, args []any) (json.RawMessage, error) {
	payload, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		Method:  "call",
		Params:  rpcParams{Service: service, Method: method, Args: args},
		ID:      c.reqID.Add(1),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode rpc request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call ERP: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read ERP response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		c.logger.Error("ERP returned HTTP error",
			zap.Int("status", resp.StatusCode),
			zap.String("service", service),
			zap.String("method", method))
		return nil, fmt.Errorf("ERP returned status %d", resp.StatusCode)
	}

	var envelope rpcResponse
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("failed to parse ERP response: %w", err)
	}

	if envelope.Error != nil {
		rpcErr := &RPCError{
			Code:      envelope.Error.Code,
			Message:   envelope.Error.Message,
			Exception: envelope.Error.Data.Name,
			Detail:    envelope.Error.Data.Message,
		}
		c.logger.Warn("ERP rpc call failed",
			zap.String("service", service),
			zap.String("method", method),
			zap.String("error", logging.SanitizeError(rpcErr)))
		return nil, rpcErr
	}

	return envelope.Result, nil
}

// Version reports the ERP server version string.
func (c *Client) Version(ctx context.Context) (string, error) {
	result, err := c.call(ctx, "common", "version", []any{})
	if err != nil {
		return "", err
	}

	var version struct {
		ServerVersion string `json:"server_version"`
	}
	if err := json.Unmarshal(result, &version); err != nil {
		return "", fmt.Errorf("failed to parse version response: %w", err)
	}
	return version.ServerVersion, nil
}

// Authenticate resolves and caches the user id for the configured
// credentials. Odoo's wire protocol sends credentials on every object call;
// the uid is stable for the lifetime of the client.
func (c *Client) Authenticate(ctx context.Context) (int, error) {
	c.authMu.Lock()
	defer c.authMu.Unlock()

	if c.uid != 0 {
		return c.uid, nil
	}

	result, err := c.call(ctx, "common", "authenticate",
		[]any{c.database, c.login, c.password, map[string]any{}})
	if err != nil {
		return 0, fmt.Errorf("authentication failed: %w", err)
	}

	// Odoo answers false, not an error, on bad credentials
	var uid int
	if err := json.Unmarshal(result, &uid); err != nil || uid == 0 {
		return 0, fmt.Errorf("ERP rejected credentials for %s on database %s", c.login, c.database)
	}

	c.uid = uid
	c.logger.Debug("authenticated with ERP",
		zap.String("database", c.database),
		zap.Int("uid", uid))
	return uid, nil
}

// ExecuteKw invokes a model method through the object service.
func (c *Client) ExecuteKw(ctx context.Context, model, method string, args []any, kwargs map[string]any) (json.RawMessage, error) {
	uid, err := c.Authenticate(ctx)
	if err != nil {
		return nil, err
	}

	if kwargs == nil {
		kwargs = map[string]any{}
	}

	return c.call(ctx, "object", "execute_kw",
		[]any{c.database, uid, c.password, model, method, args, kwargs})
}

// SearchRead is a paged search_read against one model.
func (c *Client) SearchRead(ctx context.Context, model string, domain []any, fields []string, offset, limit int) ([]map[string]any, error) {
	if domain == nil {
		domain = []any{}
	}

	result, err := c.ExecuteKw(ctx, model, "search_read", []any{domain}, map[string]any{
		"fields": fields,
		"offset": offset,
		"limit":  limit,
		"order":  "id",
	})
	if err != nil {
		return nil, err
	}

	var records []map[string]any
	if err := json.Unmarshal(result, &records); err != nil {
		return nil, fmt.Errorf("failed to parse search_read response for %s: %w", model, err)
	}
	return records, nil
}

// SearchCount counts the records matching a domain.
func (c *Client) SearchCount(ctx context.Context, model string, domain []any) (int, error) {
	if domain == nil {
		domain = []any{}
	}

	result, err := c.ExecuteKw(ctx, model, "search_count", []any{domain}, nil)
	if err != nil {
		return 0, err
	}

	var count int
	if err := json.Unmarshal(result, &count); err != nil {
		return 0, fmt.Errorf("failed to parse search_count response for %s: %w", model, err)
	}
	return count, nil
}

// Close releases client resources. The HTTP client keeps no persistent
// session with the ERP.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// buildURL constructs a URL by parsing the base and joining path segments.
func buildURL(baseURL string, pathSegments ...string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid base URL: %w", err)
	}

	segments := append([]string{u.Path}, pathSegments...)
	u.Path = path.Join(segments...)

	return u.String(), nil
}
