// Package server wires every subsystem into the single dispatch surface a
// transport calls into: one JSON-RPC request in, one JSON-RPC response out
// (spec §2's data-flow diagram, §6's method table).
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/snapback-ai/coprocessor/analyzer"
	"github.com/snapback-ai/coprocessor/auth"
	"github.com/snapback-ai/coprocessor/broker"
	"github.com/snapback-ai/coprocessor/config"
	"github.com/snapback-ai/coprocessor/docproxy"
	"github.com/snapback-ai/coprocessor/flags"
	"github.com/snapback-ai/coprocessor/internal/jsonrpc"
	"github.com/snapback-ai/coprocessor/internal/logctx"
	"github.com/snapback-ai/coprocessor/mcp"
	"github.com/snapback-ai/coprocessor/perf"
	"github.com/snapback-ai/coprocessor/router"
	"github.com/snapback-ai/coprocessor/sanitize"
	"github.com/snapback-ai/coprocessor/session"
	"github.com/snapback-ai/coprocessor/snapshot"
	"github.com/snapback-ai/coprocessor/telemetry"
	"github.com/snapback-ai/coprocessor/toolregistry"
	"github.com/snapback-ai/coprocessor/upstream"
	"github.com/snapback-ai/coprocessor/validate"
)

// Server holds every wired subsystem and exposes the single entrypoint a
// transport needs: authenticate once to open a session, then Handle each
// framed JSON-RPC message that arrives on it.
type Server struct {
	cfg    *config.Config
	logger *slog.Logger

	auth     *auth.Resolver
	sessions *session.Registry

	registry   *toolregistry.Registry
	router     *router.Router
	docProxy   *docproxy.Proxy
	snapshots  *snapshot.Store
	sanitizer  *sanitize.Sanitizer
	telemetry  telemetry.Sink
	perf       *perf.Wrapper
	flagSource *flags.Source
	vulnerabilityDB *analyzer.VulnerabilityDB
	upstream   *upstream.Client

	validatorsMu sync.Mutex
	validators   map[string]*validate.SchemaValidator
}

// New wires every subsystem named in spec §2's data-flow diagram. verifier
// and msgBroker are supplied by the caller (cmd/coprocessor) since their
// concrete shape (JWT discovery vs static dev key; in-memory vs Redis
// broker) is an operational decision outside this package's scope.
func New(cfg *config.Config, verifier auth.Verifier, msgBroker broker.Broker, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}

	vulnDB, err := analyzer.LoadVulnerabilityDB(cfg.VulnDBPath)
	if err != nil {
		return nil, err
	}

	facade := analyzer.NewFacade(
		analyzer.SecretsDetector{},
		analyzer.DangerousAPIsDetector{},
		analyzer.EnvHygieneDetector{},
		analyzer.DependencyHygieneDetector{DB: vulnDB},
	)

	var upstreamClient *upstream.Client
	var upstreamAnalyzer router.UpstreamAnalyzer
	if cfg.UpstreamBaseURL != "" {
		upstreamClient = upstream.New(upstream.Config{
			BaseURL: cfg.UpstreamBaseURL,
			APIKey:  cfg.UpstreamAPIKey,
			Timeout: cfg.UpstreamTimeout,
		})
		upstreamAnalyzer = upstreamClient
	}

	flagSource := flags.NewSource(nil)
	rtr := router.New(facade, upstreamAnalyzer, flagSource, logger)

	docProxy := docproxy.New(docproxy.Config{
		BaseURL:   cfg.DocServiceBaseURL,
		APIKey:    cfg.DocServiceAPIKey,
		SearchTTL: cfg.DocSearchCacheTTL,
		DocsTTL:   cfg.DocDocsCacheTTL,
	})

	registry := toolregistry.DefaultCatalog()
	registry.RegisterExternal(docProxy)

	s := &Server{
		cfg:             cfg,
		logger:          logger,
		auth:            auth.NewResolver(verifier),
		sessions:        session.NewRegistry(msgBroker),
		registry:        registry,
		router:          rtr,
		docProxy:        docProxy,
		snapshots:       snapshot.NewStore(500),
		sanitizer:       sanitize.New(cfg.Development, logger),
		telemetry:       telemetry.NewLogSink(logger),
		perf:            perf.New(perf.DefaultBudgets(), logger),
		flagSource:      flagSource,
		vulnerabilityDB: vulnDB,
		upstream:        upstreamClient,
		validators:      make(map[string]*validate.SchemaValidator),
	}
	return s, nil
}

// vulnDB returns the loaded offline vulnerability-advisory fixture, shared
// between the local dependency-hygiene detector and the check_dependencies
// tool's dependency-change analyzer (spec §4.8).
func (s *Server) vulnDB() *analyzer.VulnerabilityDB { return s.vulnerabilityDB }

// Authenticate resolves rawKey and, on success, opens a new session under
// parent. The caller (a transport) is responsible for tearing the session
// down via Sessions().Remove on disconnect.
func (s *Server) Authenticate(parent context.Context, rawKey string) (*session.Session, auth.Result) {
	result := s.auth.Authenticate(parent, rawKey)
	if !result.Valid {
		return nil, result
	}
	sess := s.sessions.Register(parent, result.UserID, string(result.Tier))
	return sess, result
}

// Sessions exposes the session registry for transport-level lifecycle
// management (lookup by id, shutdown on process exit).
func (s *Server) Sessions() *session.Registry { return s.sessions }

// FlagSource exposes the feature-flag snapshot for an operator-facing
// refresh loop (e.g. an admin endpoint or a polling goroutine) to update.
func (s *Server) FlagSource() *flags.Source { return s.flagSource }

// Config exposes the process configuration a transport needs for its own
// wiring (listen address, rate limit, CORS allow-list).
func (s *Server) Config() *config.Config { return s.cfg }

// HealthStatus reports a liveness/readiness snapshot for GET /health
// (spec §4.2): the circuit breaker's current state when an upstream
// analyzer is configured, and the documentation proxy's cache occupancy.
type HealthStatus struct {
	Healthy       bool   `json:"healthy"`
	BreakerState  string `json:"breakerState,omitempty"`
	UpstreamWired bool   `json:"upstreamWired"`
}

// Health computes the current HealthStatus.
func (s *Server) Health() HealthStatus {
	status := HealthStatus{Healthy: true, UpstreamWired: s.upstream != nil}
	if s.upstream != nil {
		state := s.upstream.Breaker().State()
		status.BreakerState = state.String()
		if state == upstream.Open {
			// An open breaker doesn't make the process unhealthy — local
			// analysis still serves every request (spec §4.7's fallback
			// contract) — it's surfaced for operator visibility only.
			status.Healthy = true
		}
	}
	return status
}

// Handle decodes one JSON-RPC message, dispatches it, and returns the
// encoded response. It returns nil for notifications (no response is ever
// sent) and for messages that are themselves responses (nothing to reply
// to). A malformed frame still produces a well-formed JSON-RPC error
// response carrying the original id when one could be recovered, per spec
// §4.1's "never close the connection over one bad frame" contract.
func (s *Server) Handle(ctx context.Context, sess *session.Session, raw []byte) []byte {
	var msg jsonrpc.AnyMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return encode(jsonrpc.NewErrorResponse(nil, jsonrpc.ErrorCodeParseError, "parse error", nil))
	}

	req := msg.AsRequest()
	if req == nil {
		// A response or a message this server never sent a request for;
		// nothing to reply to.
		return nil
	}

	ctx = logctx.WithRPCMessage(ctx, &logctx.RPCMessage{Method: req.Method, ID: req.ID.String(), Type: msg.Type()})
	if sess != nil {
		ctx = logctx.WithSessionData(ctx, &logctx.SessionData{SessionID: sess.ID(), UserID: sess.UserID(), Tier: sess.Tier()})
		sess.Touch()
	}

	result, rpcErr := s.dispatch(ctx, sess, mcp.Method(req.Method), req.Params)

	if req.ID == nil {
		// Notification: no response regardless of outcome.
		return nil
	}
	if rpcErr != nil {
		return encode(jsonrpc.NewErrorResponse(req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data))
	}

	resp, err := jsonrpc.NewResultResponse(req.ID, result)
	if err != nil {
		return encode(jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, "failed to encode result", nil))
	}
	return encode(resp)
}

func (s *Server) dispatch(ctx context.Context, sess *session.Session, method mcp.Method, params json.RawMessage) (any, *jsonrpc.Error) {
	switch method {
	case mcp.InitializeMethod:
		return s.handleInitialize(params), nil
	case mcp.InitializedNotificationMethod, mcp.CancelledNotificationMethod:
		return nil, nil
	case mcp.PingMethod:
		return struct{}{}, nil
	case mcp.ToolsListMethod:
		return s.handleListTools(), nil
	case mcp.ToolsCallMethod:
		return s.handleCallTool(ctx, sess, params)
	default:
		return nil, &jsonrpc.Error{Code: jsonrpc.ErrorCodeMethodNotFound, Message: "method not found: " + string(method)}
	}
}

func (s *Server) handleInitialize(params json.RawMessage) mcp.InitializeResult {
	return mcp.InitializeResult{
		ProtocolVersion: mcp.LatestProtocolVersion,
		Capabilities: mcp.ServerCapabilities{
			Tools: &struct {
				ListChanged bool `json:"listChanged"`
			}{ListChanged: false},
		},
		ServerInfo: mcp.ImplementationInfo{
			Name:    "snapback-coprocessor",
			Version: "0.1.0",
		},
	}
}

func (s *Server) handleListTools() mcp.ListToolsResult {
	return mcp.ListToolsResult{Tools: s.registry.List()}
}

// handleCallTool implements spec §4 method "tools/call": resolve the tool,
// gate on tier, validate arguments, execute, and sanitize any internal
// failure before it reaches the caller. A tier refusal and an execution
// failure are both reported as a *successful* JSON-RPC response (the
// refusal/failure lives in the CallToolResult payload), per spec §7's
// "tool errors never become transport errors" rule. Only a malformed
// envelope (params that aren't a valid CallToolRequest) is a JSON-RPC-level
// error.
func (s *Server) handleCallTool(ctx context.Context, sess *session.Session, params json.RawMessage) (*mcp.CallToolResult, *jsonrpc.Error) {
	var req mcp.CallToolRequest
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, &jsonrpc.Error{Code: jsonrpc.ErrorCodeInvalidParams, Message: "invalid tools/call params"}
	}

	ctx = logctx.WithToolCallData(ctx, &logctx.ToolCallData{ToolName: req.Name})

	descriptor, ok := s.registry.Resolve(req.Name)
	if !ok {
		return mcp.NewErrorResult("unknown tool: "+req.Name, "tool_not_found"), nil
	}

	callerTier := auth.TierFree
	if sess != nil {
		callerTier = auth.Tier(sess.Tier())
	}
	if descriptor.MinTier != "" && !auth.HasToolAccess(auth.Result{Valid: true, Tier: callerTier}, descriptor.MinTier) {
		return mcp.NewUpgradeRequiredResult(
			req.Name,
			string(descriptor.MinTier),
			"This tool requires a Pro subscription or higher. Upgrade your plan to use "+req.Name+".",
		), nil
	}

	validator, err := s.validatorFor(req.Name, descriptor)
	if err != nil {
		pub := s.sanitizer.Sanitize(ctx, err, "schema_compile_failed", "compiling input schema for "+req.Name)
		return mcp.NewErrorResult(pub.Message, pub.Code), nil
	}
	if err := validator.Validate(req.Arguments); err != nil {
		return mcp.NewErrorResult(err.Error(), "invalid_input"), nil
	}

	result, err := s.execute(ctx, sess, callerTier, req)
	if err != nil {
		pub := s.sanitizer.Sanitize(ctx, err, "execution_failed", "executing tool "+req.Name)
		return mcp.NewErrorResult(pub.Message, pub.Code), nil
	}
	return result, nil
}

func (s *Server) validatorFor(name string, descriptor toolregistry.Descriptor) (*validate.SchemaValidator, error) {
	s.validatorsMu.Lock()
	defer s.validatorsMu.Unlock()

	if v, ok := s.validators[name]; ok {
		return v, nil
	}
	v, err := validate.NewSchemaValidator(descriptor.InputSchema)
	if err != nil {
		return nil, err
	}
	s.validators[name] = v
	return v, nil
}

func encode(resp *jsonrpc.Response) []byte {
	b, err := json.Marshal(resp)
	if err != nil {
		// Marshaling a *jsonrpc.Response built from our own fixed fields
		// cannot fail; this is an unreachable defensive fallback.
		return []byte(`{"jsonrpc":"2.0","error":{"code":-32603,"message":"internal error"}}`)
	}
	return b
}
