package mcp

import "encoding/json"

// Version is the JSON-RPC protocol version carried by every envelope.
const Version = "2.0"

// Well-known MCP methods. Generic methods are routable to any server in
// scope when the request carries no capability requirements.
const (
	MethodInitialize    = "initialize"
	MethodPing          = "ping"
	MethodToolsList     = "tools/list"
	MethodToolsCall     = "tools/call"
	MethodResourcesList = "resources/list"
	MethodResourcesRead = "resources/read"
)

// GenericMethods are MCP methods that do not imply a capability requirement.
var GenericMethods = map[string]bool{
	MethodInitialize:    true,
	MethodPing:          true,
	MethodToolsList:     true,
	MethodResourcesList: true,
}

// Request represents a JSON-RPC 2.0 request envelope.
//
// The ID may be a string, number, or null per the JSON-RPC specification,
// so it is kept as a raw message and echoed back verbatim in responses.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response represents a JSON-RPC 2.0 response envelope.
// Exactly one of Result and Error is set.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *ErrorDetail    `json:"error,omitempty"`
}

// ErrorDetail carries a JSON-RPC error object.
//
// Data carries structured diagnostics: the gateway sets keys such as
// "error", "details", "timeout", "retry_after", and "required_roles"
// depending on the failure class.
type ErrorDetail struct {
	Code    int            `json:"code"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
}

// JSON-RPC 2.0 standard error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// NewErrorResponse builds an error envelope echoing the request ID.
func NewErrorResponse(id json.RawMessage, code int, message string, data map[string]any) *Response {
	return &Response{
		JSONRPC: Version,
		ID:      id,
		Error: &ErrorDetail{
			Code:    code,
			Message: message,
			Data:    data,
		},
	}
}

// Tool describes a named operation exposed by an MCP server.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}

// Resource describes a URI-template-addressed object exposed by an MCP server.
type Resource struct {
	URI         string `json:"uri"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
}

// ToolsListResult is the result shape of the tools/list method.
type ToolsListResult struct {
	Tools []Tool `json:"tools"`
}

// ResourcesListResult is the result shape of the resources/list method.
type ResourcesListResult struct {
	Resources []Resource `json:"resources"`
}
