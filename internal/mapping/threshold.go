package mapping

import (
	"formmap/internal/config"
	"formmap/internal/fieldspec"
)

// hardThresholdCeiling caps the tightened post-completion threshold. Beyond
// this no real score can pass, which would turn tightening into a silent
// field blackout.
const hardThresholdCeiling = 400

// tightenedExtraBoost is added on top of the quality boost once every
// essential field is satisfied.
const tightenedExtraBoost = 50

// optionalHighPriority lists non-essential fields that keep the plain quality
// threshold even after the essentials are done: they are worth mapping at
// normal strictness, not worth suppressing.
var optionalHighPriority = map[string]struct{}{
	fieldspec.KeySubject:    {},
	fieldspec.KeyPhone:      {},
	fieldspec.KeyAddress:    {},
	fieldspec.KeyPostal:     {},
	fieldspec.KeyCompany:    {},
	fieldspec.KeyPrefecture: {},
}

// dynamicThreshold computes the minimum acceptable score for a field.
//
// Resolution order (first match wins):
//  1. per-field override in settings
//  2. essential field -> flat base (quality boosts must never penalize them)
//  3. quality-first mode off -> flat base
//  4. optional high-priority field -> base+boost capped at max
//  5. all essentials satisfied -> base+boost+50 capped at the hard ceiling
//  6. otherwise -> base+boost capped at max
//
// Pure function of settings and completion state.
func dynamicThreshold(key string, s config.Settings, essentials map[string]struct{}, essentialsDone bool) int {
	if override, ok := s.MinScoreThresholdPerField[key]; ok {
		return override
	}
	if fieldspec.IsEssential(key, essentials) {
		return s.MinScoreThreshold
	}
	if !s.QualityFirstMode {
		return s.MinScoreThreshold
	}

	boosted := s.MinScoreThreshold + s.QualityThresholdBoost

	if _, ok := optionalHighPriority[key]; ok {
		return min(boosted, s.MaxQualityThreshold)
	}
	if essentialsDone {
		return min(boosted+tightenedExtraBoost, hardThresholdCeiling)
	}
	return min(boosted, s.MaxQualityThreshold)
}
