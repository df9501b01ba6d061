package jsonrpcx

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/danghamo/proximity/internal/domain/shared"
)

// JSONRPCRequest represents a JSON-RPC 2.0 request
type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      any             `json:"id,omitempty"`
}

// JSONRPCResponse represents a JSON-RPC 2.0 response
type JSONRPCResponse struct {
	JSONRPC string        `json:"jsonrpc"`
	Result  any           `json:"result,omitempty"`
	Error   *JSONRPCError `json:"error,omitempty"`
	ID      any           `json:"id,omitempty"`
}

// JSONRPCError represents a JSON-RPC 2.0 error
type JSONRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// JsonRpcNotification is a JSON-RPC 2.0 request without an ID, pushed to stream clients
type JsonRpcNotification struct {
	Jsonrpc string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// NewNotification creates a notification
func NewNotification(method string, params any) JsonRpcNotification {
	return JsonRpcNotification{Jsonrpc: "2.0", Method: method, Params: params}
}

// JSON-RPC 2.0 error codes
const (
	ParseError     = -32700
	InvalidRequest = -32600
	MethodNotFound = -32601
	InvalidParams  = -32602
	InternalError  = -32603

	// server defined
	RateLimited         = -32029
	PositionUnavailable = -32002
)

type contextKey string

const errorKey contextKey = "jsonrpc_error"

var errInvalidVersion = errors.New("jsonrpc version must be 2.0")

// ParseRequest parses JSON-RPC 2.0 request from HTTP request body
func ParseRequest(r *http.Request) (*JSONRPCRequest, error) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	defer r.Body.Close()

	var req JSONRPCRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, err
	}

	// Validate JSON-RPC version
	if req.JSONRPC != "2.0" {
		return nil, errInvalidVersion
	}

	return &req, nil
}

// BindParams decodes the request params into v. Empty params leave v untouched.
func (req *JSONRPCRequest) BindParams(v any) error {
	if len(req.Params) == 0 {
		return nil
	}
	return json.Unmarshal(req.Params, v)
}

// Success sends a successful JSON-RPC 2.0 response
func Success(w http.ResponseWriter, id any, result any) {
	response := JSONRPCResponse{
		JSONRPC: "2.0",
		Result:  result,
		ID:      id,
	}

	Response(w, response)
}

// WithError attaches an error to the request context for middleware processing
func WithError(r *http.Request, id any, code int, message string) {
	response := &JSONRPCResponse{
		JSONRPC: "2.0",
		Error: &JSONRPCError{
			Code:    code,
			Message: message,
		},
		ID: id,
	}

	// Store the JSON-RPC response in request context and overwrite the request pointer
	ctx := context.WithValue(r.Context(), errorKey, response)
	*r = *r.WithContext(ctx)
}

// WithDomainError maps err to a JSON-RPC code and attaches it like WithError
func WithDomainError(r *http.Request, id any, err error) {
	code := InternalError
	switch {
	case errors.Is(err, shared.ErrUnknownMode), errors.Is(err, shared.ErrInvalidRange):
		code = InvalidParams
	case shared.IsPositionError(err):
		code = PositionUnavailable
	}
	WithError(r, id, code, err.Error())
}

// ErrorFromContext returns the error response stored by WithError
func ErrorFromContext(ctx context.Context) (*JSONRPCResponse, bool) {
	response, ok := ctx.Value(errorKey).(*JSONRPCResponse)
	return response, ok
}

// ErrorAdapter interface for middleware to send error responses
type ErrorAdapter interface {
	SendError(w http.ResponseWriter, id any, code int, message string)
}

// errorAdapter is the private implementation of ErrorAdapter
type errorAdapter struct{}

// NewErrorAdapter creates a new error adapter for middleware use
func NewErrorAdapter() ErrorAdapter {
	return &errorAdapter{}
}

// SendError sends an error JSON-RPC 2.0 response (only accessible through ErrorAdapter)
func (ea *errorAdapter) SendError(w http.ResponseWriter, id any, code int, message string) {
	response := JSONRPCResponse{
		JSONRPC: "2.0",
		Error: &JSONRPCError{
			Code:    code,
			Message: message,
		},
		ID: id,
	}

	Response(w, response)
}

// Response sends a JSON-RPC 2.0 response (always HTTP 200)
func Response(w http.ResponseWriter, response JSONRPCResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK) // JSON-RPC always returns HTTP 200

	// Encode response - if error occurs, it will be logged by middleware
	json.NewEncoder(w).Encode(response)
}
