package toolregistry

import (
	"github.com/snapback-ai/coprocessor/auth"
	"github.com/snapback-ai/coprocessor/mcp"
)

// DefaultCatalog builds the fixed tool catalog named in spec §6.
func DefaultCatalog() *Registry {
	r := New()

	r.MustRegister(Descriptor{
		Name:        "snapback.analyze_risk",
		Description: "Diff-aware risk analysis of a set of code changes.",
		MinTier:     auth.TierFree,
		InputSchema: mcp.ToolInputSchema{
			Type:     "object",
			Required: []string{"changes"},
			Properties: map[string]mcp.SchemaProperty{
				"changes": {
					Type: "array",
					Items: &mcp.SchemaProperty{
						Type: "object",
						Properties: map[string]mcp.SchemaProperty{
							"added":   {Type: "boolean"},
							"removed": {Type: "boolean"},
							"value":   {Type: "string", MaxLength: 1024 * 1024},
							"count":   {Type: "integer"},
						},
					},
				},
			},
		},
	})

	r.MustRegister(Descriptor{
		Name:        "snapback.check_dependencies",
		Description: "Compares two dependency maps and reports adds, removes, and version changes.",
		MinTier:     auth.TierFree,
		InputSchema: mcp.ToolInputSchema{
			Type:     "object",
			Required: []string{"before", "after"},
			Properties: map[string]mcp.SchemaProperty{
				"before": {Type: "object"},
				"after":  {Type: "object"},
			},
		},
	})

	r.MustRegister(Descriptor{
		Name:            "snapback.create_snapshot",
		Description:     "Captures a content-addressed snapshot of one or more files.",
		MinTier:         auth.TierPro,
		RequiresBackend: true,
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]mcp.SchemaProperty{
				"filePath": {Type: "string", MaxLength: 4096},
				"reason":   {Type: "string", MaxLength: 1024},
				"content":  {Type: "string", MaxLength: 1024 * 1024},
				"files": {
					Type: "array",
					Items: &mcp.SchemaProperty{
						Type: "object",
						Properties: map[string]mcp.SchemaProperty{
							"path":    {Type: "string", MaxLength: 4096},
							"content": {Type: "string", MaxLength: 1024 * 1024},
						},
					},
				},
			},
		},
	})

	r.MustRegister(Descriptor{
		Name:            "snapback.list_snapshots",
		Description:     "Lists captured snapshots, most recent first.",
		MinTier:         auth.TierPro,
		RequiresBackend: true,
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
		},
	})

	r.MustRegister(Descriptor{
		Name:            "snapback.restore_snapshot",
		Description:     "Restores a previously captured snapshot, optionally writing it to disk.",
		MinTier:         auth.TierPro,
		RequiresBackend: true,
		InputSchema: mcp.ToolInputSchema{
			Type:     "object",
			Required: []string{"snapshotId"},
			Properties: map[string]mcp.SchemaProperty{
				"snapshotId": {Type: "string"},
				"targetPath": {Type: "string", MaxLength: 4096},
			},
		},
	})

	r.MustRegister(Descriptor{
		Name:        "catalog.list_tools",
		Description: "Lists the aggregated native and external tool catalog.",
		MinTier:     auth.TierFree,
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
		},
	})

	// ctx7.resolve-library-id and ctx7.get-library-docs are not registered
	// here: they are contributed at server-wiring time by the Documentation
	// Proxy, which implements ExternalResolver under the "ctx7." prefix
	// (SPEC_FULL.md §C). Composing them that way keeps this fixed native
	// catalog free of a component that genuinely talks to an external
	// service.

	return r
}
