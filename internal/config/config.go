// Package config defines the immutable run configuration for the mapping
// pipeline and loads it from a JSON file.
//
// Every numeric here is an empirically tuned constant carried over from
// production runs; they are configuration, not derived values. Change them in
// a settings file, not in code.
package config

import (
	"encoding/json"
	"fmt"
	"os"

	"formmap/internal/fieldspec"
)

// Settings is read-only for the duration of a run.
type Settings struct {
	// MinScoreThreshold is the flat base acceptance score.
	MinScoreThreshold int `json:"min_score_threshold"`

	// MinScoreThresholdPerField overrides the threshold for specific mapping
	// keys. A per-field override always wins over every other rule.
	MinScoreThresholdPerField map[string]int `json:"min_score_threshold_per_field,omitempty"`

	// EssentialFields lists the mapping keys whose absence is a near-fatal
	// gap. Essential fields are never penalized by quality-mode boosts.
	EssentialFields []string `json:"essential_fields"`

	// QualityFirstMode raises thresholds for non-essential fields to favor
	// precision once the form's core is covered.
	QualityFirstMode      bool `json:"quality_first_mode"`
	QualityThresholdBoost int  `json:"quality_threshold_boost"`
	MaxQualityThreshold   int  `json:"max_quality_threshold"`

	// QuickTopK bounds how many quick-ranked candidates get the expensive
	// detailed score. Essential fields get the larger K.
	QuickTopK          int `json:"quick_top_k"`
	QuickTopKEssential int `json:"quick_top_k_essential"`

	// Early stop: a strong-type + strict-pattern candidate above this score
	// terminates the scan for essential fields.
	EarlyStopEnabled bool `json:"early_stop_enabled"`
	EarlyStopScore   int  `json:"early_stop_score"`

	// ConfirmTokens override the built-in confirmation vocabulary when set.
	ConfirmTokens []string `json:"confirm_tokens,omitempty"`

	// Required boosts applied by the scorer.
	RequiredBoost      int `json:"required_boost"`
	RequiredPhoneBoost int `json:"required_phone_boost"`

	// FallbackMinScore is the floor used when salvage passes register an
	// assignment the main scorer under-valued.
	FallbackMinScore int `json:"fallback_min_score"`
	// PostalFallbackMinScore is the relaxed threshold of the single-postal
	// fallback pass.
	PostalFallbackMinScore int `json:"postal_fallback_min_score"`
}

// Default returns the production defaults.
func Default() Settings {
	return Settings{
		MinScoreThreshold: 70,
		EssentialFields: []string{
			fieldspec.KeyLastName, fieldspec.KeyFirstName,
			fieldspec.KeyLastNameKana, fieldspec.KeyFirstNameKana,
			fieldspec.KeyLastNameHira, fieldspec.KeyFirstNameHira,
			fieldspec.KeyFullName, fieldspec.KeyFullNameKana,
			fieldspec.KeyEmail, fieldspec.KeyMessage,
		},
		QualityFirstMode:       true,
		QualityThresholdBoost:  20,
		MaxQualityThreshold:    150,
		QuickTopK:              5,
		QuickTopKEssential:     8,
		EarlyStopEnabled:       true,
		EarlyStopScore:         180,
		RequiredBoost:          50,
		RequiredPhoneBoost:     30,
		FallbackMinScore:       15,
		PostalFallbackMinScore: 50,
	}
}

// Load reads settings from a JSON file, applying defaults for absent fields.
func Load(path string) (Settings, error) {
	s := Default()

	b, err := os.ReadFile(path)
	if err != nil {
		return s, fmt.Errorf("read settings file: %w", err)
	}
	if err := json.Unmarshal(b, &s); err != nil {
		return s, fmt.Errorf("parse settings json: %w", err)
	}
	if err := s.Validate(); err != nil {
		return s, err
	}
	return s, nil
}

// Validate rejects configurations that would make the pipeline degenerate.
func (s Settings) Validate() error {
	if s.MinScoreThreshold <= 0 {
		return fmt.Errorf("min_score_threshold must be > 0, got %d", s.MinScoreThreshold)
	}
	if s.MaxQualityThreshold < s.MinScoreThreshold {
		return fmt.Errorf("max_quality_threshold %d below min_score_threshold %d",
			s.MaxQualityThreshold, s.MinScoreThreshold)
	}
	if s.QuickTopK <= 0 || s.QuickTopKEssential <= 0 {
		return fmt.Errorf("quick_top_k values must be > 0")
	}
	return nil
}

// EssentialSet returns EssentialFields as a set.
func (s Settings) EssentialSet() map[string]struct{} {
	m := make(map[string]struct{}, len(s.EssentialFields))
	for _, f := range s.EssentialFields {
		m[f] = struct{}{}
	}
	return m
}

// Confirm returns the confirmation vocabulary, defaulting to the built-in
// token set.
func (s Settings) Confirm() []string {
	if len(s.ConfirmTokens) > 0 {
		return s.ConfirmTokens
	}
	return fieldspec.ConfirmTokens
}
