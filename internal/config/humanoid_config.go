// File: internal/config/humanoid_config.go
// This file defines the HumanoidConfig struct, which contains the tunable
// pauses used to pace browser actions like a person would: short gaps
// between keystrokes, longer pauses to "read" a freshly loaded page and to
// "think" before clicking. It also shapes the pointer: Fitts's law timing,
// path jitter, near misses, stepped scrolling and corrected typos.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// HumanoidConfig holds the pacing ranges. A zero range disables that pause.
type HumanoidConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	TypingMin     time.Duration `mapstructure:"typing_min" yaml:"typing_min"`
	TypingMax     time.Duration `mapstructure:"typing_max" yaml:"typing_max"`
	ReadingMin    time.Duration `mapstructure:"reading_min" yaml:"reading_min"`
	ReadingMax    time.Duration `mapstructure:"reading_max" yaml:"reading_max"`
	ThinkingMin   time.Duration `mapstructure:"thinking_min" yaml:"thinking_min"`
	ThinkingMax   time.Duration `mapstructure:"thinking_max" yaml:"thinking_max"`
	NavigatingMin time.Duration `mapstructure:"navigating_min" yaml:"navigating_min"`
	NavigatingMax time.Duration `mapstructure:"navigating_max" yaml:"navigating_max"`

	// LongPauseProbability is the chance that any pause is stretched,
	// simulating a distracted user.
	LongPauseProbability float64 `mapstructure:"long_pause_probability" yaml:"long_pause_probability"`
	// ActionsPerSecond caps the rate of discrete UI actions (clicks, fills).
	ActionsPerSecond float64 `mapstructure:"actions_per_second" yaml:"actions_per_second"`

	// Fitts's law movement time in milliseconds: FittsA + FittsB*log2(1+D/W).
	FittsA float64 `mapstructure:"fitts_a" yaml:"fitts_a"`
	FittsB float64 `mapstructure:"fitts_b" yaml:"fitts_b"`
	// MouseJitter is the maximum deviation in pixels of a path point.
	MouseJitter float64 `mapstructure:"mouse_jitter" yaml:"mouse_jitter"`
	// MisclickProbability is the chance the pointer first lands beside the target.
	MisclickProbability float64 `mapstructure:"misclick_probability" yaml:"misclick_probability"`
	// TypoProbability is the chance a letter is preceded by a corrected typo.
	TypoProbability float64 `mapstructure:"typo_probability" yaml:"typo_probability"`
	// ScrollMargin is the distance in pixels kept between the viewport top and
	// an element scrolled into view.
	ScrollMargin float64 `mapstructure:"scroll_margin" yaml:"scroll_margin"`
}

func setHumanoidDefaults(v *viper.Viper) {
	v.SetDefault("browser.humanoid.enabled", true)
	v.SetDefault("browser.humanoid.typing_min", "50ms")
	v.SetDefault("browser.humanoid.typing_max", "150ms")
	v.SetDefault("browser.humanoid.reading_min", "2s")
	v.SetDefault("browser.humanoid.reading_max", "5s")
	v.SetDefault("browser.humanoid.thinking_min", "1s")
	v.SetDefault("browser.humanoid.thinking_max", "3s")
	v.SetDefault("browser.humanoid.navigating_min", "1500ms")
	v.SetDefault("browser.humanoid.navigating_max", "4s")
	v.SetDefault("browser.humanoid.long_pause_probability", 0.1)
	v.SetDefault("browser.humanoid.actions_per_second", 2.0)
	v.SetDefault("browser.humanoid.fitts_a", 100.0)
	v.SetDefault("browser.humanoid.fitts_b", 150.0)
	v.SetDefault("browser.humanoid.mouse_jitter", 5.0)
	v.SetDefault("browser.humanoid.misclick_probability", 0.05)
	v.SetDefault("browser.humanoid.typo_probability", 0.03)
	v.SetDefault("browser.humanoid.scroll_margin", 200.0)
}

// Validate checks that every range is well formed.
func (h *HumanoidConfig) Validate() error {
	if !h.Enabled {
		return nil
	}
	ranges := []struct {
		name     string
		min, max time.Duration
	}{
		{"typing", h.TypingMin, h.TypingMax},
		{"reading", h.ReadingMin, h.ReadingMax},
		{"thinking", h.ThinkingMin, h.ThinkingMax},
		{"navigating", h.NavigatingMin, h.NavigatingMax},
	}
	for _, r := range ranges {
		if r.min < 0 || r.max < r.min {
			return fmt.Errorf("%s range must satisfy 0 <= min <= max", r.name)
		}
	}
	probabilities := []struct {
		name string
		p    float64
	}{
		{"long_pause_probability", h.LongPauseProbability},
		{"misclick_probability", h.MisclickProbability},
		{"typo_probability", h.TypoProbability},
	}
	for _, pr := range probabilities {
		if pr.p < 0 || pr.p > 1 {
			return fmt.Errorf("%s must be between 0.0 and 1.0", pr.name)
		}
	}
	if h.ActionsPerSecond < 0 {
		return fmt.Errorf("actions_per_second must not be negative")
	}
	if h.FittsA < 0 || h.FittsB < 0 {
		return fmt.Errorf("fitts_a and fitts_b must not be negative")
	}
	if h.MouseJitter < 0 || h.ScrollMargin < 0 {
		return fmt.Errorf("mouse_jitter and scroll_margin must not be negative")
	}
	return nil
}
