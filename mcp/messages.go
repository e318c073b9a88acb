package mcp

import "encoding/json"

// Method is an MCP method identifier used in JSON-RPC requests.
type Method string

const (
	InitializeMethod              Method = "initialize"
	InitializedNotificationMethod Method = "notifications/initialized"

	ToolsListMethod Method = "tools/list"
	ToolsCallMethod Method = "tools/call"

	PingMethod                  Method = "ping"
	CancelledNotificationMethod Method = "notifications/cancelled"
)

// PaginatedRequest carries a cursor for paginated list requests.
type PaginatedRequest struct {
	Cursor string `json:"cursor,omitzero"`
}

// PaginatedResult carries a cursor for continuing pagination.
type PaginatedResult struct {
	NextCursor string `json:"nextCursor,omitzero"`
}

// InitializeRequest starts the MCP initialization handshake.
type InitializeRequest struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    ClientCapabilities `json:"capabilities"`
	ClientInfo      ImplementationInfo `json:"clientInfo"`
}

// InitializeResult returns negotiated capabilities and server info.
type InitializeResult struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    ServerCapabilities `json:"capabilities"`
	ServerInfo      ImplementationInfo `json:"serverInfo"`
	Instructions    string             `json:"instructions,omitzero"`
}

// ListToolsRequest requests the set of available tools.
type ListToolsRequest struct {
	PaginatedRequest
}

// ListToolsResult returns the available tools.
type ListToolsResult struct {
	Tools []Tool `json:"tools"`
	PaginatedResult
}

// CallToolRequest is the server-received representation of a tool call.
type CallToolRequest struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// CallToolResult represents a tool invocation result.
//
// On failure IsError is true and Error carries a machine-readable code and
// message; on a tier refusal IsError is false and the first Content element
// is the human-readable refusal message, followed by the machine-readable
// upgrade marker.
type CallToolResult struct {
	Content []ContentBlock `json:"content,omitempty"`
	IsError bool           `json:"isError,omitzero"`
	Error   *ToolError     `json:"error,omitempty"`
}

// ToolError is the structured error payload for a failed tool call.
type ToolError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// NewUpgradeRequiredResult builds a successful (non-error) response whose
// first content element is the human-readable refusal message (spec §8
// scenario 6); the machine-readable marker follows as a second block.
func NewUpgradeRequiredResult(toolName, requiredTier, message string) *CallToolResult {
	return &CallToolResult{
		Content: []ContentBlock{
			TextBlock(message),
			JSONBlock(map[string]any{
				"marker":       UpgradeMarker,
				"tool":         toolName,
				"requiredTier": requiredTier,
			}),
		},
	}
}

// NewErrorResult builds an isError:true response.
func NewErrorResult(message, code string) *CallToolResult {
	return &CallToolResult{
		IsError: true,
		Error:   &ToolError{Message: message, Code: code},
		Content: []ContentBlock{TextBlock(message)},
	}
}
