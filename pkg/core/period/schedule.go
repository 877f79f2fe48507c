// Package period enumerates the Korean filing periods that should already be
// public for a given "today", following the statutory release-month
// conventions (quarterlies within the fiscal year, the annual report in March
// of the following year).
package period

import (
	"fmt"
	"sort"
	"time"
)

// ReportCode is the periodic-report type, valued as the disclosure API's
// reprt_code wire constant.
type ReportCode string

const (
	ReportQ1     ReportCode = "11013"
	ReportH1     ReportCode = "11012"
	ReportQ3     ReportCode = "11014"
	ReportAnnual ReportCode = "11011"
)

// AllReportCodes in within-year release order.
var AllReportCodes = []ReportCode{ReportQ1, ReportH1, ReportQ3, ReportAnnual}

// Label returns the human name of a report code.
func (c ReportCode) Label() string {
	switch c {
	case ReportQ1:
		return "Q1"
	case ReportH1:
		return "H1"
	case ReportQ3:
		return "Q3"
	case ReportAnnual:
		return "Annual"
	}
	return string(c)
}

// releaseRule fixes when a report for fiscal year Y becomes public:
// the first day of month, in year Y+yearOffset.
type releaseRule struct {
	month      time.Month
	yearOffset int
}

var releaseRules = map[ReportCode]releaseRule{
	ReportQ1:     {time.May, 0},
	ReportH1:     {time.August, 0},
	ReportQ3:     {time.November, 0},
	ReportAnnual: {time.March, 1},
}

// FilingPeriod identifies one periodic report of one fiscal year.
type FilingPeriod struct {
	FiscalYear int
	Code       ReportCode
}

// ReleaseDate is the conventional first day the report is expected public.
func (p FilingPeriod) ReleaseDate() time.Time {
	rule := releaseRules[p.Code]
	return time.Date(p.FiscalYear+rule.yearOffset, rule.month, 1, 0, 0, 0, 0, time.UTC)
}

// Label renders "FY2023 Annual" style period names for snapshots.
func (p FilingPeriod) Label() string {
	return fmt.Sprintf("FY%d %s", p.FiscalYear, p.Code.Label())
}

// DefaultMinYears is how many distinct fiscal years must contribute at least
// one releasable period before the automatic walk-back stops.
const DefaultMinYears = 4

// MaxLookbackYears bounds the automatic walk behind the current year.
const MaxLookbackYears = 12

// Build enumerates candidate filing periods, most recently released first.
// targetYear > 0 requests that specific year: all four report types are
// returned with the release guard off, since the caller explicitly wants the
// year even if a filing would theoretically not yet be public. targetYear 0
// is automatic mode: walk back from the current year keeping only periods
// whose release date is not after today, until DefaultMinYears fiscal years
// have contributed at least one period each.
func Build(targetYear int, today time.Time) []FilingPeriod {
	return BuildN(targetYear, today, DefaultMinYears)
}

// BuildN is Build with an explicit contributing-year requirement.
func BuildN(targetYear int, today time.Time, minYears int) []FilingPeriod {
	if minYears < 1 {
		minYears = 1
	}

	var candidates []FilingPeriod
	if targetYear > 0 {
		for _, code := range AllReportCodes {
			candidates = append(candidates, FilingPeriod{FiscalYear: targetYear, Code: code})
		}
	} else {
		contributed := 0
		for offset := 0; offset <= MaxLookbackYears; offset++ {
			year := today.Year() - offset
			added := false
			for _, code := range AllReportCodes {
				p := FilingPeriod{FiscalYear: year, Code: code}
				if p.ReleaseDate().After(today) {
					continue
				}
				candidates = append(candidates, p)
				added = true
			}
			if added {
				contributed++
				if contributed >= minYears {
					break
				}
			}
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		ri, rj := candidates[i].ReleaseDate(), candidates[j].ReleaseDate()
		if !ri.Equal(rj) {
			return ri.After(rj)
		}
		return candidates[i].FiscalYear > candidates[j].FiscalYear
	})
	return candidates
}
