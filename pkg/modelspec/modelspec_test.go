package modelspec_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/wovenai/loom/pkg/modelspec"
)

func newParser(t *testing.T) *modelspec.Parser {
	t.Helper()
	p, err := modelspec.NewParser("hosted", []string{"vllm-local", "llamacpp"}, nil)
	if err != nil {
		t.Fatalf("NewParser: %v", err)
	}
	return p
}

func TestParse_ExplicitProvider(t *testing.T) {
	t.Parallel()
	p := newParser(t)

	spec, err := p.Parse("vllm-local::qwen3-32b")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if spec.Provider != "vllm-local" {
		t.Errorf("provider = %q, want %q", spec.Provider, "vllm-local")
	}
	if spec.Model != "qwen3-32b" {
		t.Errorf("model = %q, want %q", spec.Model, "qwen3-32b")
	}
	if spec.Raw != "vllm-local::qwen3-32b" {
		t.Errorf("raw = %q, want original input", spec.Raw)
	}
}

func TestParse_UnknownProvider(t *testing.T) {
	t.Parallel()
	p := newParser(t)

	_, err := p.Parse("nope::some-model")
	if !errors.Is(err, modelspec.ErrUnknownProvider) {
		t.Fatalf("err = %v, want ErrUnknownProvider", err)
	}
	// The error should name the known providers to help the caller.
	if !strings.Contains(err.Error(), "vllm-local") {
		t.Errorf("error should list known providers, got: %v", err)
	}
}

func TestParse_BareAliasResolvesToHosted(t *testing.T) {
	t.Parallel()
	p := newParser(t)

	spec, err := p.Parse("flash")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if spec.Provider != "hosted" {
		t.Errorf("provider = %q, want %q", spec.Provider, "hosted")
	}
	if spec.Model != "gemini-2.5-flash" {
		t.Errorf("model = %q, want resolved alias", spec.Model)
	}
}

func TestParse_UnknownAliasPassesThrough(t *testing.T) {
	t.Parallel()
	p := newParser(t)

	spec, err := p.Parse("gemini-3.0-experimental")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if spec.Provider != "hosted" {
		t.Errorf("provider = %q, want %q", spec.Provider, "hosted")
	}
	if spec.Model != "gemini-3.0-experimental" {
		t.Errorf("model = %q, want pass-through", spec.Model)
	}
}

func TestParse_ExtraAliasesOverrideDefaults(t *testing.T) {
	t.Parallel()
	p, err := modelspec.NewParser("hosted", nil, map[string]string{
		"flash": "gemini-2.0-flash",
		"big":   "gemini-2.5-pro",
	})
	if err != nil {
		t.Fatalf("NewParser: %v", err)
	}

	for alias, want := range map[string]string{
		"flash": "gemini-2.0-flash",
		"big":   "gemini-2.5-pro",
	} {
		spec, err := p.Parse(alias)
		if err != nil {
			t.Fatalf("Parse(%q): %v", alias, err)
		}
		if spec.Model != want {
			t.Errorf("Parse(%q).Model = %q, want %q", alias, spec.Model, want)
		}
	}
}

func TestParse_SeparatorInModelToken(t *testing.T) {
	t.Parallel()
	p := newParser(t)

	// Only the first separator splits; the rest belongs to the model.
	spec, err := p.Parse("llamacpp::org::weird::model")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if spec.Provider != "llamacpp" {
		t.Errorf("provider = %q, want %q", spec.Provider, "llamacpp")
	}
	if spec.Model != "org::weird::model" {
		t.Errorf("model = %q, want remainder after first separator", spec.Model)
	}
}

func TestParse_EmptyInputs(t *testing.T) {
	t.Parallel()
	p := newParser(t)

	for _, raw := range []string{"", "   ", "hosted::", "hosted::   "} {
		if _, err := p.Parse(raw); !errors.Is(err, modelspec.ErrEmptyModel) {
			t.Errorf("Parse(%q) err = %v, want ErrEmptyModel", raw, err)
		}
	}
}

func TestParse_ProviderCaseInsensitive(t *testing.T) {
	t.Parallel()
	p := newParser(t)

	spec, err := p.Parse("VLLM-Local::qwen3-32b")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if spec.Provider != "vllm-local" {
		t.Errorf("provider = %q, want lowercased %q", spec.Provider, "vllm-local")
	}
}

func TestParse_HostedAliasViaExplicitProvider(t *testing.T) {
	t.Parallel()
	p := newParser(t)

	// Aliases also resolve when the hosted provider is named explicitly.
	spec, err := p.Parse("hosted::pro")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if spec.Model != "gemini-2.5-pro" {
		t.Errorf("model = %q, want resolved alias", spec.Model)
	}
}

func TestString_RoundTrip(t *testing.T) {
	t.Parallel()
	p := newParser(t)

	spec, err := p.Parse("vllm-local::qwen3-32b")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	rt, err := p.Parse(spec.String())
	if err != nil {
		t.Fatalf("re-parse: %v", err)
	}
	if rt.Provider != spec.Provider || rt.Model != spec.Model {
		t.Errorf("round trip changed specifier: %v → %v", spec, rt)
	}
}

func TestNewParser_RequiresHosted(t *testing.T) {
	t.Parallel()
	if _, err := modelspec.NewParser("", []string{"a"}, nil); err == nil {
		t.Fatal("expected error for empty hosted provider name, got nil")
	}
}
