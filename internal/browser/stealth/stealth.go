package stealth

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/haggle-cli/internal/config"
)

//go:embed evasions.js
var evasionsScript string

// Persona defines the browser characteristics to emulate.
type Persona struct {
	UserAgent     string   `json:"userAgent"`
	Platform      string   `json:"platform"`
	Languages     []string `json:"languages"`
	Timezone      string   `json:"timezone"`
	Locale        string   `json:"locale"`
	WebGLVendor   string   `json:"webglVendor"`
	WebGLRenderer string   `json:"webglRenderer"`
	// CanvasNoise perturbs canvas readbacks with a per-document seed.
	CanvasNoise bool `json:"canvasNoise"`
}

// DefaultPersona is a German desktop Chrome on Windows with an Intel GPU.
var DefaultPersona = Persona{
	UserAgent:     "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
	Platform:      "Win32",
	Languages:     []string{"de-DE", "de", "en"},
	Timezone:      "Europe/Berlin",
	Locale:        "de-DE",
	WebGLVendor:   "Google Inc. (Intel)",
	WebGLRenderer: "ANGLE (Intel, Intel(R) UHD Graphics 620 Direct3D11 vs_5_0 ps_5_0, D3D11)",
	CanvasNoise:   true,
}

// FromConfig builds a persona, falling back to DefaultPersona per empty field.
func FromConfig(c config.PersonaConfig) Persona {
	p := DefaultPersona
	if c.UserAgent != "" {
		p.UserAgent = c.UserAgent
	}
	if c.Platform != "" {
		p.Platform = c.Platform
	}
	if len(c.Languages) > 0 {
		p.Languages = c.Languages
	}
	if c.Timezone != "" {
		p.Timezone = c.Timezone
	}
	if c.Locale != "" {
		p.Locale = c.Locale
	}
	if c.WebGLVendor != "" {
		p.WebGLVendor = c.WebGLVendor
	}
	if c.WebGLRenderer != "" {
		p.WebGLRenderer = c.WebGLRenderer
	}
	if c.DisableCanvasNoise {
		p.CanvasNoise = false
	}
	return p
}

// AcceptLanguage renders the Accept-Language header for the persona, with
// descending quality values: "de-DE,de;q=0.9,en;q=0.8".
func (p Persona) AcceptLanguage() string {
	parts := make([]string, 0, len(p.Languages))
	for i, lang := range p.Languages {
		if i == 0 {
			parts = append(parts, lang)
			continue
		}
		q := 1.0 - 0.1*float64(i)
		if q < 0.1 {
			q = 0.1
		}
		parts = append(parts, fmt.Sprintf("%s;q=%.1f", lang, q))
	}
	return strings.Join(parts, ",")
}

// Script returns the evasion script bound to the persona.
func (p Persona) Script() (string, error) {
	data, err := jsoniter.MarshalToString(p)
	if err != nil {
		return "", fmt.Errorf("failed to encode persona: %w", err)
	}
	return "(" + strings.TrimSpace(evasionsScript) + ")(" + data + ");", nil
}

// Apply constructs a sequence of Chrome DevTools Protocol actions to make the
// headless browser appear more like a standard, user-operated browser.
func Apply(p Persona, logger *zap.Logger) chromedp.Tasks {
	logger.Debug("Applying browser stealth persona",
		zap.String("userAgent", p.UserAgent),
		zap.String("platform", p.Platform),
		zap.String("locale", p.Locale),
		zap.String("timezone", p.Timezone),
		zap.String("webglRenderer", p.WebGLRenderer),
		zap.Bool("canvasNoise", p.CanvasNoise),
	)

	tasks := chromedp.Tasks{
		emulation.SetUserAgentOverride(p.UserAgent).
			WithPlatform(p.Platform).
			WithAcceptLanguage(p.AcceptLanguage()),

		chromedp.ActionFunc(func(ctx context.Context) error {
			script, err := p.Script()
			if err != nil {
				return err
			}
			if _, err := page.AddScriptToEvaluateOnNewDocument(script).Do(ctx); err != nil {
				return fmt.Errorf("failed to inject evasions script: %w", err)
			}
			return nil
		}),
	}

	if p.Timezone != "" {
		tasks = append(tasks, emulation.SetTimezoneOverride(p.Timezone))
	}
	if p.Locale != "" {
		tasks = append(tasks, emulation.SetLocaleOverride().WithLocale(p.Locale))
	}
	if len(p.Languages) > 0 {
		tasks = append(tasks, network.SetExtraHTTPHeaders(network.Headers{
			"Accept-Language": p.AcceptLanguage(),
		}))
	}
	return tasks
}
