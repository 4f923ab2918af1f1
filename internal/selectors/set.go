// Package selectors holds the ordered fallback selector chains for every
// logical UI element and resolves them against a live page.
package selectors

import (
	_ "embed"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/xkilldash9x/haggle-cli/internal/browser"
)

// Logical element names.
const (
	CookieBanner      = "cookie_banner"
	LoginLink         = "login_link"
	EmailField        = "email_field"
	PasswordField     = "password_field"
	LoginSubmit       = "login_submit"
	LoginMarker       = "login_marker"
	ListingTitle      = "listing_title"
	ContactButton     = "contact_button"
	MessageTextarea   = "message_textarea"
	MessageSend       = "message_send"
	MessageSent       = "message_sent"
	ConversationList  = "conversation_list"
	ConversationEntry = "conversation_entry"
	OfferForm         = "offer_form"
	OfferButton       = "offer_button"
	OfferPrice        = "offer_price"
	OfferDelivery     = "offer_delivery"
	OfferShipping     = "offer_shipping"
	OfferNote         = "offer_note"
	OfferSubmit       = "offer_submit"
	OfferSuccess      = "offer_success"
	Captcha           = "captcha"
)

// Elements lists every element a Set must define.
var Elements = []string{
	CookieBanner, LoginLink, EmailField, PasswordField, LoginSubmit, LoginMarker,
	ListingTitle, ContactButton, MessageTextarea, MessageSend, MessageSent,
	ConversationList, ConversationEntry,
	OfferForm, OfferButton, OfferPrice, OfferDelivery, OfferShipping, OfferNote, OfferSubmit, OfferSuccess,
	Captcha,
}

//go:embed defaults.yaml
var defaultsYAML []byte

const fileVersion = 1

type fileFormat struct {
	Version  int                 `yaml:"version"`
	Elements map[string][]string `yaml:"elements"`
}

// Selector is one entry of a chain: the configured text and its parsed query.
type Selector struct {
	Raw   string
	Query browser.Query
}

// Set maps element names to ordered selector chains. It is immutable once
// built; accessors hand out copies.
type Set struct {
	chains map[string][]Selector
}

// LoadDefault returns the built-in set.
func LoadDefault() (*Set, error) {
	raw, err := decode(defaultsYAML)
	if err != nil {
		return nil, fmt.Errorf("built-in selectors: %w", err)
	}
	return build(raw)
}

// Load returns the built-in set, with the chains from the file at path
// replacing the built-in chain of each element they name. An empty path
// yields the built-in set.
func Load(path string) (*Set, error) {
	base, err := decode(defaultsYAML)
	if err != nil {
		return nil, fmt.Errorf("built-in selectors: %w", err)
	}
	if path == "" {
		return build(base)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read selector file: %w", err)
	}
	override, err := decode(data)
	if err != nil {
		return nil, fmt.Errorf("selector file %s: %w", path, err)
	}
	for name, chain := range override {
		if _, known := base[name]; !known {
			return nil, fmt.Errorf("selector file %s: unknown element %q", path, name)
		}
		base[name] = chain
	}
	return build(base)
}

func decode(data []byte) (map[string][]string, error) {
	var f fileFormat
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("invalid YAML: %w", err)
	}
	if f.Version != fileVersion {
		return nil, fmt.Errorf("unsupported version %d", f.Version)
	}
	if f.Elements == nil {
		f.Elements = map[string][]string{}
	}
	return f.Elements, nil
}

func build(raw map[string][]string) (*Set, error) {
	s := &Set{chains: make(map[string][]Selector, len(raw))}
	for _, name := range Elements {
		chain := raw[name]
		if len(chain) == 0 {
			return nil, fmt.Errorf("element %q has no selectors", name)
		}
		parsed := make([]Selector, 0, len(chain))
		for i, sel := range chain {
			q, err := browser.ParseSelector(sel)
			if err != nil {
				return nil, fmt.Errorf("element %q selector %d: %w", name, i, err)
			}
			parsed = append(parsed, Selector{Raw: sel, Query: q})
		}
		s.chains[name] = parsed
	}
	return s, nil
}

// Chain returns a copy of the ordered chain for element, or nil if unknown.
func (s *Set) Chain(element string) []Selector {
	chain, ok := s.chains[element]
	if !ok {
		return nil
	}
	return append([]Selector(nil), chain...)
}

// Names returns the defined element names in sorted order.
func (s *Set) Names() []string {
	names := make([]string, 0, len(s.chains))
	for name := range s.chains {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
