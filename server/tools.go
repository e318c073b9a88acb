package server

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/snapback-ai/coprocessor/analyzer"
	"github.com/snapback-ai/coprocessor/auth"
	"github.com/snapback-ai/coprocessor/docproxy"
	"github.com/snapback-ai/coprocessor/mcp"
	"github.com/snapback-ai/coprocessor/router"
	"github.com/snapback-ai/coprocessor/session"
	"github.com/snapback-ai/coprocessor/snapshot"
	"github.com/snapback-ai/coprocessor/validate"
)

// execute runs the named tool's handler wrapped in the performance budget
// wrapper (spec §4.12), after tier gating and schema validation have
// already passed.
func (s *Server) execute(ctx context.Context, sess *session.Session, tier auth.Tier, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var result *mcp.CallToolResult
	operation := perfOperation(req.Name, tier)

	err := s.perf.Wrap(ctx, operation, func(ctx context.Context) error {
		var err error
		switch req.Name {
		case "snapback.analyze_risk":
			result, err = s.callAnalyzeRisk(ctx, tier, req.Arguments)
		case "snapback.check_dependencies":
			result, err = s.callCheckDependencies(req.Arguments)
		case "snapback.create_snapshot":
			result, err = s.callCreateSnapshot(ctx, req.Arguments)
		case "snapback.list_snapshots":
			result, err = s.callListSnapshots()
		case "snapback.restore_snapshot":
			result, err = s.callRestoreSnapshot(ctx, req.Arguments)
		case "catalog.list_tools":
			result, err = s.callListCatalog()
		case "ctx7.resolve-library-id":
			result, err = s.callResolveLibraryID(ctx, req.Arguments)
		case "ctx7.get-library-docs":
			result, err = s.callGetLibraryDocs(ctx, req.Arguments)
		default:
			result, err = mcp.NewErrorResult("unknown tool: "+req.Name, "tool_not_found"), nil
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// perfOperation maps a tool name onto perf.DefaultBudgets' key space.
// analyze_risk has two budgets (local vs upstream-backed); the free tier
// always takes the local path (spec §4.6 step 1) while pro/admin attempt
// upstream first, so the tier alone is a reasonable proxy for which budget
// applies without re-running the router's decision tree here.
func perfOperation(name string, tier auth.Tier) string {
	switch name {
	case "snapback.analyze_risk":
		if tier == auth.TierFree {
			return "analyze_risk_local"
		}
		return "analyze_risk_upstream"
	case "snapback.check_dependencies":
		return "check_dependencies"
	case "snapback.create_snapshot":
		return "create_snapshot"
	case "snapback.restore_snapshot":
		return "restore_snapshot"
	case "ctx7.resolve-library-id":
		return "resolve_library_id"
	case "ctx7.get-library-docs":
		return "get_library_docs"
	default:
		return strings.ReplaceAll(name, ".", "_")
	}
}

// changeEntry mirrors one element of analyze_risk's "changes" array (spec
// §6's tool catalog).
type changeEntry struct {
	Added   bool   `json:"added"`
	Removed bool   `json:"removed"`
	Value   string `json:"value"`
	Count   int    `json:"count"`
}

type analyzeRiskArgs struct {
	Changes []changeEntry `json:"changes"`
}

// buildCodeAndMetadata reconstructs the resulting file content from a diff's
// changes (removed lines are dropped, added and context lines kept) and
// records which resulting line numbers were added, so detectors can scan
// diff-aware when metadata is consulted (spec §4.8).
func buildCodeAndMetadata(changes []changeEntry) (string, analyzer.Metadata) {
	var b strings.Builder
	var changedLines []int
	lineNo := 0

	for _, c := range changes {
		if c.Removed {
			continue
		}
		for _, ln := range strings.Split(c.Value, "\n") {
			lineNo++
			b.WriteString(ln)
			b.WriteByte('\n')
			if c.Added {
				changedLines = append(changedLines, lineNo)
			}
		}
	}

	return b.String(), analyzer.Metadata{ChangedLines: changedLines}
}

func (s *Server) callAnalyzeRisk(ctx context.Context, tier auth.Tier, raw json.RawMessage) (*mcp.CallToolResult, error) {
	var args analyzeRiskArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return mcp.NewErrorResult("malformed changes argument", "invalid_input"), nil
	}

	code, metadata := buildCodeAndMetadata(args.Changes)
	result := s.router.Analyze(ctx, code, router.Context{Tier: tier, Metadata: metadata})

	return &mcp.CallToolResult{Content: []mcp.ContentBlock{mcp.JSONBlock(analyzeRiskPayload(result))}}, nil
}

func analyzeRiskPayload(result router.Result) map[string]any {
	return map[string]any{
		"riskLevel":       result.RiskLevel,
		"confidence":      result.Confidence,
		"issues":          result.Issues,
		"executionTimeMs": result.ExecutionTimeMS,
		"upgradePrompt":   result.UpgradePrompt,
		"recommendations": result.Recommendations,
	}
}

type checkDependenciesArgs struct {
	Before map[string]any `json:"before"`
	After  map[string]any `json:"after"`
}

func (s *Server) callCheckDependencies(raw json.RawMessage) (*mcp.CallToolResult, error) {
	var args checkDependenciesArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return mcp.NewErrorResult("malformed before/after argument", "invalid_input"), nil
	}

	changes := s.dependencyChangeAnalyzer().Compare(args.Before, args.After)
	return &mcp.CallToolResult{Content: []mcp.ContentBlock{mcp.JSONBlock(map[string]any{"changes": changes})}}, nil
}

func (s *Server) dependencyChangeAnalyzer() analyzer.DependencyChangeAnalyzer {
	return analyzer.DependencyChangeAnalyzer{DB: s.vulnDB()}
}

type snapshotFileArg struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

type createSnapshotArgs struct {
	FilePath string            `json:"filePath"`
	Reason   string            `json:"reason"`
	Content  string            `json:"content"`
	Files    []snapshotFileArg `json:"files"`
}

func (s *Server) callCreateSnapshot(ctx context.Context, raw json.RawMessage) (*mcp.CallToolResult, error) {
	var args createSnapshotArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return mcp.NewErrorResult("malformed snapshot arguments", "invalid_input"), nil
	}

	entries := args.Files
	if len(entries) == 0 {
		if args.FilePath == "" {
			return mcp.NewErrorResult("either files or filePath is required", "invalid_input"), nil
		}
		entries = []snapshotFileArg{{Path: args.FilePath, Content: args.Content}}
	}

	files := make([]snapshot.File, 0, len(entries))
	for _, e := range entries {
		if _, err := validate.ValidatePathTelemetry(ctx, e.Path, s.cfg.WorkspaceRoot, s.telemetry); err != nil {
			return mcp.NewErrorResult(fmt.Sprintf("%s: invalid path", e.Path), "invalid_path"), nil
		}
		files = append(files, snapshot.File{Path: e.Path, Content: []byte(e.Content)})
	}

	snap, err := s.snapshots.Create(files, snapshot.Options{Description: args.Reason})
	if err != nil {
		return nil, err
	}

	return &mcp.CallToolResult{Content: []mcp.ContentBlock{mcp.JSONBlock(map[string]any{
		"snapshotId": snap.ID,
		"createdAt":  snap.CreatedAt,
		"files":      snap.Files,
	})}}, nil
}

func (s *Server) callListSnapshots() (*mcp.CallToolResult, error) {
	snaps := s.snapshots.List()
	out := make([]map[string]any, 0, len(snaps))
	for _, sn := range snaps {
		out = append(out, map[string]any{
			"snapshotId":  sn.ID,
			"createdAt":   sn.CreatedAt,
			"description": sn.Description,
			"protected":   sn.Protected,
			"fileCount":   len(sn.Files),
		})
	}
	return &mcp.CallToolResult{Content: []mcp.ContentBlock{mcp.JSONBlock(map[string]any{"snapshots": out})}}, nil
}

type restoreSnapshotArgs struct {
	SnapshotID string `json:"snapshotId"`
	TargetPath string `json:"targetPath"`
}

func (s *Server) callRestoreSnapshot(ctx context.Context, raw json.RawMessage) (*mcp.CallToolResult, error) {
	var args restoreSnapshotArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return mcp.NewErrorResult("malformed restore arguments", "invalid_input"), nil
	}

	targetPath := args.TargetPath
	if targetPath != "" {
		realTarget, err := validate.ValidatePathTelemetry(ctx, targetPath, s.cfg.WorkspaceRoot, s.telemetry)
		if err != nil {
			return mcp.NewErrorResult("invalid target path", "invalid_path"), nil
		}
		targetPath = realTarget
	}

	result, err := s.snapshots.Restore(args.SnapshotID, targetPath)
	if err != nil {
		return mcp.NewErrorResult("snapshot not found", "snapshot_not_found"), nil
	}

	return &mcp.CallToolResult{Content: []mcp.ContentBlock{mcp.JSONBlock(map[string]any{
		"success":       result.Success,
		"errors":        result.Errors,
		"restoredFiles": result.RestoredFiles,
	})}}, nil
}

func (s *Server) callListCatalog() (*mcp.CallToolResult, error) {
	return &mcp.CallToolResult{Content: []mcp.ContentBlock{mcp.JSONBlock(map[string]any{"tools": s.registry.List()})}}, nil
}

type resolveLibraryIDArgs struct {
	LibraryName string `json:"libraryName"`
}

func (s *Server) callResolveLibraryID(ctx context.Context, raw json.RawMessage) (*mcp.CallToolResult, error) {
	var args resolveLibraryIDArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return mcp.NewErrorResult("malformed libraryName argument", "invalid_input"), nil
	}

	matches, err := s.docProxy.ResolveLibraryID(ctx, args.LibraryName)
	if err != nil {
		return nil, err
	}
	return &mcp.CallToolResult{Content: []mcp.ContentBlock{mcp.JSONBlock(map[string]any{"matches": matches})}}, nil
}

type getLibraryDocsArgs struct {
	LibraryID string `json:"context7CompatibleLibraryID"`
	Topic     string `json:"topic"`
	Tokens    int    `json:"tokens"`
}

func (s *Server) callGetLibraryDocs(ctx context.Context, raw json.RawMessage) (*mcp.CallToolResult, error) {
	var args getLibraryDocsArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return mcp.NewErrorResult("malformed library docs arguments", "invalid_input"), nil
	}

	result, err := s.docProxy.GetLibraryDocs(ctx, args.LibraryID, docproxy.GetLibraryDocsOptions{Topic: args.Topic, Tokens: args.Tokens})
	if err != nil {
		return nil, err
	}
	return &mcp.CallToolResult{Content: []mcp.ContentBlock{mcp.JSONBlock(map[string]any{"content": result.Content})}}, nil
}
