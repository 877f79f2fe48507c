package extract

import (
	"sort"
	"time"
)

// XbrlFact is one unit-tagged, dated value for a concept from a company
// facts bag.
type XbrlFact struct {
	ConceptTag string
	Unit       string
	Value      float64
	FilingForm string
	PeriodEnd  time.Time
	FiledDate  time.Time
}

// DefaultFormPriority ranks disclosure forms by authority: the annual report
// outranks interim and current reports even when those are more recent.
var DefaultFormPriority = []string{"10-K", "10-Q", "20-F", "6-K", "8-K"}

// FormIndex returns the rank of a form within the priority list; forms not
// listed rank after every listed one.
func FormIndex(form string, priority []string) int {
	for i, p := range priority {
		if p == form {
			return i
		}
	}
	return len(priority)
}

// effectiveDate is the date used for the forward-dating guard: the period
// end, or the filed date when the period end is unset.
func (f XbrlFact) effectiveDate() time.Time {
	if !f.PeriodEnd.IsZero() {
		return f.PeriodEnd
	}
	return f.FiledDate
}

// SelectBestFact picks the most authoritative fact from candidates: lowest
// form-priority index first, then latest period end. Facts dated strictly
// after today are excluded. Residual ties keep the input order, so callers
// that gather candidates across an ordered alias list get earlier-alias-wins
// for free.
func SelectBestFact(candidates []XbrlFact, formPriority []string, today time.Time) (XbrlFact, bool) {
	eligible := make([]XbrlFact, 0, len(candidates))
	for _, f := range candidates {
		if f.effectiveDate().After(today) {
			continue
		}
		eligible = append(eligible, f)
	}
	if len(eligible) == 0 {
		return XbrlFact{}, false
	}
	sort.SliceStable(eligible, func(i, j int) bool {
		pi := FormIndex(eligible[i].FilingForm, formPriority)
		pj := FormIndex(eligible[j].FilingForm, formPriority)
		if pi != pj {
			return pi < pj
		}
		return eligible[i].PeriodEnd.After(eligible[j].PeriodEnd)
	})
	return eligible[0], true
}

// BestFactAcrossTags runs SelectBestFact over the union of candidates for an
// ordered concept-tag list. The caller declares its preferred tags without
// knowing which one a given filer actually used; tag order breaks residual
// ties.
func BestFactAcrossTags(bag map[string][]XbrlFact, tags []string, formPriority []string, today time.Time) (XbrlFact, bool) {
	var union []XbrlFact
	for _, tag := range tags {
		union = append(union, bag[tag]...)
	}
	return SelectBestFact(union, formPriority, today)
}

// BestAmountAcrossTags is BestFactAcrossTags with the value truncated to an
// integer amount, matching the Korean-path amount semantics.
func BestAmountAcrossTags(bag map[string][]XbrlFact, tags []string, formPriority []string, today time.Time) *int64 {
	fact, ok := BestFactAcrossTags(bag, tags, formPriority, today)
	if !ok {
		return nil
	}
	v := int64(fact.Value)
	return &v
}
