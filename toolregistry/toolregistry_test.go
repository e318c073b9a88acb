package toolregistry

import (
	"errors"
	"testing"

	"github.com/snapback-ai/coprocessor/auth"
	"github.com/snapback-ai/coprocessor/mcp"
)

func TestDefaultCatalogMatchesSpec(t *testing.T) {
	r := DefaultCatalog()

	want := map[string]auth.Tier{
		"snapback.analyze_risk":       auth.TierFree,
		"snapback.check_dependencies": auth.TierFree,
		"snapback.create_snapshot":    auth.TierPro,
		"snapback.list_snapshots":     auth.TierPro,
		"snapback.restore_snapshot":   auth.TierPro,
		"catalog.list_tools":          auth.TierFree,
	}

	for name, tier := range want {
		d, ok := r.Resolve(name)
		if !ok {
			t.Fatalf("expected tool %q registered", name)
		}
		if d.MinTier != tier {
			t.Fatalf("tool %q: expected tier %s, got %s", name, tier, d.MinTier)
		}
	}

	if len(r.SortedNames()) != len(want) {
		t.Fatalf("expected exactly %d native tools, got %d", len(want), len(r.SortedNames()))
	}
}

func TestDefaultCatalogComposesCtx7ViaExternalResolver(t *testing.T) {
	r := DefaultCatalog()
	r.RegisterExternal(&stubExternal{
		prefix: "ctx7.",
		tools: []Descriptor{
			{Name: "ctx7.resolve-library-id", MinTier: auth.TierFree, InputSchema: mcp.ToolInputSchema{Type: "object"}},
			{Name: "ctx7.get-library-docs", MinTier: auth.TierFree, InputSchema: mcp.ToolInputSchema{Type: "object"}},
		},
	})

	if _, ok := r.Resolve("ctx7.resolve-library-id"); !ok {
		t.Fatalf("expected ctx7.resolve-library-id to resolve via the external resolver")
	}
	if _, ok := r.Resolve("ctx7.get-library-docs"); !ok {
		t.Fatalf("expected ctx7.get-library-docs to resolve via the external resolver")
	}
}

func TestResolveUnknownTool(t *testing.T) {
	r := DefaultCatalog()
	if _, ok := r.Resolve("does.not.exist"); ok {
		t.Fatalf("expected unknown tool to not resolve")
	}
}

type stubExternal struct {
	prefix string
	tools  []Descriptor
	err    error
}

func (s *stubExternal) Prefix() string { return s.prefix }
func (s *stubExternal) ListTools() ([]Descriptor, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.tools, nil
}

func TestExternalResolverComposition(t *testing.T) {
	r := New()
	r.MustRegister(Descriptor{Name: "native.tool", InputSchema: mcp.ToolInputSchema{Type: "object"}})
	r.RegisterExternal(&stubExternal{
		prefix: "gh.",
		tools:  []Descriptor{{Name: "gh.search_issues", InputSchema: mcp.ToolInputSchema{Type: "object"}}},
	})
	r.RegisterExternal(&stubExternal{prefix: "broken.", err: errors.New("unavailable")})

	list := r.List()
	if len(list) != 2 {
		t.Fatalf("expected native tool plus one external tool, got %d", len(list))
	}

	if _, ok := r.Resolve("gh.search_issues"); !ok {
		t.Fatalf("expected external tool to resolve")
	}
}
