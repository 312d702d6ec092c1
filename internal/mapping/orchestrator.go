package mapping

import (
	"sort"

	"formmap/internal/dom"
	"formmap/internal/fieldspec"
	"formmap/internal/metrics"
	"formmap/internal/score"
)

// rankedCandidate pairs an element with its quick score for the bounded
// detailed-scoring loop.
type rankedCandidate struct {
	el    *dom.Element
	quick int
}

// fieldDecision is the outcome of the detailed-scoring loop for one field.
type fieldDecision struct {
	el      *dom.Element
	score   int
	details score.Details
	// requiredMatch is set when the chosen element's identity is in the
	// required set; it relaxes acceptance below quality-mode thresholds.
	requiredMatch bool
}

// runMainLoop processes every configured field pattern in descending weight
// order: gather -> quick rank -> detailed loop -> eligibility -> safeguard ->
// register.
func (e *Engine) runMainLoop(sess *session) {
	for _, p := range fieldspec.SortedByWeight() {
		pat := p
		e.processField(sess, &pat)
	}
}

func (e *Engine) processField(sess *session, p *fieldspec.Pattern) {
	if sess.mapping.Has(p.Key) {
		return
	}

	candidates := e.gatherCandidates(sess, p)
	if len(candidates) == 0 {
		return
	}

	ranked := e.quickRank(sess, p, candidates)
	if len(ranked) == 0 {
		return
	}

	best, ok := e.detailScoreLoop(sess, p, ranked)
	if !ok {
		return
	}

	if !e.eligible(sess, p, best) {
		e.logf("field=%s skip reason=ineligible score=%d", p.Key, best.score)
		return
	}

	if !safeguardPasses(p.Kind, best.el) {
		e.logf("field=%s skip reason=safeguard idx=%d breakdown=%s", p.Key, best.el.Index, best.details)
		e.count(metrics.MetricSafeguardRejects, metrics.Labels{"field": p.Kind.String()})
		return
	}

	e.logf("field=%s accept idx=%d score=%d breakdown=%s", p.Key, best.el.Index, best.score, best.details)
	sess.register(p.Key, best.el, best.score, ProvNormal)
}

// gatherCandidates pulls the unused elements from the buckets the pattern's
// tag/type sets admit.
func (e *Engine) gatherCandidates(sess *session, p *fieldspec.Pattern) []*dom.Element {
	var out []*dom.Element
	add := func(bucket []*dom.Element) {
		for _, el := range bucket {
			if sess.isUsed(el) {
				continue
			}
			if !p.AcceptsTag(el.Info.TagName) || !p.AcceptsType(el.Info.TagName, el.Info.Type) {
				continue
			}
			out = append(out, el)
		}
	}

	c := sess.classified
	for _, tag := range p.Tags {
		switch tag {
		case "textarea":
			add(c.Textareas)
		case "select":
			add(c.Selects)
		case "input":
			for _, typ := range p.Types {
				switch typ {
				case "email":
					add(c.EmailInputs)
				case "tel":
					add(c.TelInputs)
				case "url":
					add(c.URLInputs)
				case "number":
					add(c.NumberInputs)
				case "text":
					add(c.TextInputs)
				}
			}
			if len(p.Types) == 0 {
				add(c.TextInputs)
			}
		}
	}
	return out
}

// quickRank applies the cheap scorer to every candidate, drops non-positive
// scores, sorts descending, and keeps the top K. Bounds the cost of the
// detailed scorer on long forms.
func (e *Engine) quickRank(sess *session, p *fieldspec.Pattern, candidates []*dom.Element) []rankedCandidate {
	ranked := make([]rankedCandidate, 0, len(candidates))
	for _, el := range candidates {
		q := sess.scorer.Quick(el, p, p.Kind)
		if q <= 0 {
			continue
		}
		ranked = append(ranked, rankedCandidate{el: el, quick: q})
	}

	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].quick > ranked[j].quick })

	k := e.Settings.QuickTopK
	if p.Essential {
		k = e.Settings.QuickTopKEssential
	}
	if len(ranked) > k {
		ranked = ranked[:k]
	}
	return ranked
}

// detailScoreLoop runs the detailed scorer over the ranked candidates and
// tracks the best acceptable one.
//
// Per-candidate anomalies are visible skip branches, never propagated: one
// broken candidate must not abort the field.
func (e *Engine) detailScoreLoop(sess *session, p *fieldspec.Pattern, ranked []rankedCandidate) (fieldDecision, bool) {
	var best fieldDecision
	found := false

	for _, rc := range ranked {
		if !allowCandidate(p.Kind, rc.el) {
			e.count(metrics.MetricFilterRejects, metrics.Labels{"field": p.Kind.String()})
			continue
		}

		total, details := sess.scorer.Detailed(rc.el, p, p.Kind)
		if total <= 0 {
			continue
		}

		reqMatch := sess.req.Has(rc.el.Identity())

		if !found || total > best.score {
			best = fieldDecision{el: rc.el, score: total, details: details, requiredMatch: reqMatch}
			found = true
		}

		// Early stop: essential fields only, and only on a decisive
		// combination of strong type, strict text, and a high score.
		if e.Settings.EarlyStopEnabled && p.Essential &&
			total >= e.Settings.EarlyStopScore &&
			score.StrictHit(rc.el, p) && strongTypeHit(rc.el, p) {
			e.logf("field=%s early_stop idx=%d score=%d", p.Key, rc.el.Index, total)
			break
		}
	}

	return best, found
}

// acceptThreshold is the threshold the best candidate must clear. A required
// match relaxes quality-mode inflation back to the flat base (required
// matches must not be lost to tightening), unless a per-field override is in
// force.
func (e *Engine) acceptThreshold(sess *session, key string, requiredMatch bool) int {
	t := dynamicThreshold(key, e.Settings, sess.essentials, sess.allEssentialsDone())
	if !requiredMatch {
		return t
	}
	if _, hasOverride := e.Settings.MinScoreThresholdPerField[key]; hasOverride {
		return t
	}
	return min(t, e.Settings.MinScoreThreshold)
}

func strongTypeHit(el *dom.Element, p *fieldspec.Pattern) bool {
	if p.StrongType == "" {
		return false
	}
	if p.StrongType == "textarea" {
		return el.Info.TagName == "textarea"
	}
	return el.Info.TagName == "input" && el.Info.Type == p.StrongType
}

// coreFieldKinds are always worth mapping when a plausible candidate clears
// the gates: the form is useless without them.
func isCoreField(kind fieldspec.FieldKind) bool {
	switch kind {
	case fieldspec.KindLastName, fieldspec.KindFirstName,
		fieldspec.KindLastNameKana, fieldspec.KindFirstNameKana,
		fieldspec.KindLastNameHira, fieldspec.KindFirstNameHira,
		fieldspec.KindFullName, fieldspec.KindFullNameKana,
		fieldspec.KindMessage:
		return true
	}
	return false
}

// optionalAllowList are the optional-but-high-value fields that may map on
// score alone (dynamic threshold, or failing that the flat base).
var optionalAllowList = map[string]struct{}{
	fieldspec.KeySubject:     {},
	fieldspec.KeyPhone:       {},
	fieldspec.KeyAddress:     {},
	fieldspec.KeyPostal:      {},
	fieldspec.KeyCompany:     {},
	fieldspec.KeyPrefecture:  {},
	fieldspec.KeyCompanyKana: {},
}

// eligible decides whether the field may be mapped to its best candidate.
//
// A field is mapped only if one of:
//   - it is a core field (name/kana families plus message), with the
//     core-field acceptance rules below
//   - its best candidate's identity is in the required set
//   - treat-all-as-required is set and the field is essential or company name
//   - it is in the optional allow-list and its score clears the dynamic
//     threshold or, failing that, the flat base threshold
func (e *Engine) eligible(sess *session, p *fieldspec.Pattern, best fieldDecision) bool {
	if isCoreField(p.Kind) {
		return e.coreFieldEligible(sess, p, best)
	}

	if best.requiredMatch {
		return true
	}

	if sess.req.TreatAllAsRequired {
		if fieldspec.IsEssential(p.Key, sess.essentials) || p.Kind == fieldspec.KindCompany {
			return true
		}
	}

	if _, ok := optionalAllowList[p.Key]; ok {
		if best.score >= e.acceptThreshold(sess, p.Key, best.requiredMatch) {
			return true
		}
		return best.score >= e.Settings.MinScoreThreshold
	}

	return false
}

// coreFieldEligible applies the stricter core-field rules.
//
// The message field needs either an above-base score or a literal textarea.
// Other core fields: when a per-field override threshold exists, the score
// must clear it even for required matches (safety bias against last/first
// name mis-assignment); otherwise a required match or a threshold-clearing
// score suffices.
func (e *Engine) coreFieldEligible(sess *session, p *fieldspec.Pattern, best fieldDecision) bool {
	if p.Kind == fieldspec.KindMessage {
		if best.el.Info.TagName == "textarea" {
			return true
		}
		return best.score >= e.Settings.MinScoreThreshold
	}

	if override, ok := e.Settings.MinScoreThresholdPerField[p.Key]; ok {
		return best.score >= override
	}

	if best.requiredMatch {
		return true
	}
	return best.score >= e.acceptThreshold(sess, p.Key, best.requiredMatch)
}
