// Package modelspec parses model specifier strings of the form
// "provider::model" into immutable provider+model pairs.
//
// A specifier without the "::" separator is treated as an alias for a model
// on the hosted provider and resolved through the parser's alias table.
// Unresolved aliases pass through unchanged so that newly released hosted
// models work without a parser update.
package modelspec

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Separator divides the provider token from the model token.
const Separator = "::"

// ErrUnknownProvider is returned when the provider token of a specifier is
// not in the parser's known provider set.
var ErrUnknownProvider = errors.New("modelspec: unknown provider")

// ErrEmptyModel is returned when a specifier has no model token.
var ErrEmptyModel = errors.New("modelspec: empty model")

// Specifier is a parsed provider+model pair. Immutable once parsed.
type Specifier struct {
	// Provider is the validated provider token.
	Provider string

	// Model is the model identifier. Never empty.
	Model string

	// Raw is the original input string.
	Raw string
}

// String re-serializes the specifier as "provider::model".
func (s Specifier) String() string {
	return s.Provider + Separator + s.Model
}

// defaultAliases maps short hosted-model names to full model identifiers.
// Config-supplied aliases are merged over these at parser construction.
var defaultAliases = map[string]string{
	"flash":      "gemini-2.5-flash",
	"flash-lite": "gemini-2.5-flash-lite",
	"pro":        "gemini-2.5-pro",
}

// Parser validates provider tokens and resolves bare aliases. It is
// immutable after construction and safe for concurrent use.
type Parser struct {
	hosted    string
	providers map[string]struct{}
	aliases   map[string]string
}

// NewParser returns a Parser that accepts the given provider names.
// hosted names the provider bare aliases resolve against; it is added to the
// known set implicitly. extraAliases are merged over the built-in alias
// table, overriding on collision.
func NewParser(hosted string, providers []string, extraAliases map[string]string) (*Parser, error) {
	hosted = strings.TrimSpace(strings.ToLower(hosted))
	if hosted == "" {
		return nil, errors.New("modelspec: hosted provider name is required")
	}

	known := make(map[string]struct{}, len(providers)+1)
	known[hosted] = struct{}{}
	for _, p := range providers {
		p = strings.TrimSpace(strings.ToLower(p))
		if p == "" {
			continue
		}
		known[p] = struct{}{}
	}

	aliases := make(map[string]string, len(defaultAliases)+len(extraAliases))
	for k, v := range defaultAliases {
		aliases[strings.ToLower(k)] = v
	}
	for k, v := range extraAliases {
		k = strings.TrimSpace(strings.ToLower(k))
		v = strings.TrimSpace(v)
		if k == "" || v == "" {
			continue
		}
		aliases[k] = v
	}

	return &Parser{hosted: hosted, providers: known, aliases: aliases}, nil
}

// Providers returns the sorted known provider set.
func (p *Parser) Providers() []string {
	out := make([]string, 0, len(p.providers))
	for name := range p.providers {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Hosted returns the name of the hosted provider.
func (p *Parser) Hosted() string {
	return p.hosted
}

// Parse parses raw into a Specifier.
//
// When raw contains the "::" separator it is split on the first occurrence
// only — the model token may itself contain separator-like characters (e.g.
// "compat-a::org::model" yields model "org::model"). The provider token must
// be in the known set or Parse fails with [ErrUnknownProvider].
//
// When no separator is present the whole string is treated as a hosted-model
// alias: known aliases resolve through the alias table, unknown ones pass
// through unchanged.
func (p *Parser) Parse(raw string) (Specifier, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Specifier{}, ErrEmptyModel
	}

	provider, model, found := strings.Cut(trimmed, Separator)
	if !found {
		return Specifier{
			Provider: p.hosted,
			Model:    p.resolveAlias(trimmed),
			Raw:      raw,
		}, nil
	}

	provider = strings.TrimSpace(strings.ToLower(provider))
	model = strings.TrimSpace(model)
	if model == "" {
		return Specifier{}, fmt.Errorf("%w: %q", ErrEmptyModel, raw)
	}
	if _, ok := p.providers[provider]; !ok {
		return Specifier{}, fmt.Errorf("%w: %q (known: %s)",
			ErrUnknownProvider, provider, strings.Join(p.Providers(), ", "))
	}

	if provider == p.hosted {
		model = p.resolveAlias(model)
	}
	return Specifier{Provider: provider, Model: model, Raw: raw}, nil
}

// resolveAlias returns the full model identifier for name, or name itself
// when no alias entry exists.
func (p *Parser) resolveAlias(name string) string {
	if full, ok := p.aliases[strings.ToLower(name)]; ok {
		return full
	}
	return name
}
