package vat

import (
	"fmt"
	"time"
)

// Period is the (start, end, filing due) triple identifying one filing
// obligation instance. Dates are civil dates at UTC midnight.
type Period struct {
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	FilingDue time.Time `json:"filingDue"`
}

// Label renders the period the way quarter rows store it,
// e.g. "2024-04-01_to_2024-06-30".
func (p Period) Label() string {
	return fmt.Sprintf("%s_to_%s", p.Start.Format("2006-01-02"), p.End.Format("2006-01-02"))
}

// endMonths maps each quarter group to the months its quarters end in.
var endMonths = map[QuarterGroup][4]time.Month{
	GroupJanAprJulOct: {time.January, time.April, time.July, time.October},
	GroupFebMayAugNov: {time.February, time.May, time.August, time.November},
	GroupMarJunSepDec: {time.March, time.June, time.September, time.December},
}

// creationMonths is the explicit group-to-creation-month table: quarters are
// created at the start of the month after each quarter end.
var creationMonths = map[QuarterGroup][4]time.Month{
	GroupJanAprJulOct: {time.February, time.May, time.August, time.November},
	GroupFebMayAugNov: {time.March, time.June, time.September, time.December},
	GroupMarJunSepDec: {time.April, time.July, time.October, time.January},
}

// KnownGroup reports whether g is one of the three supported cycles.
func KnownGroup(g QuarterGroup) bool {
	_, ok := endMonths[g]
	return ok
}

// IsCreationMonth reports whether m is a creation month for group g.
func IsCreationMonth(g QuarterGroup, m time.Month) bool {
	for _, cm := range creationMonths[g] {
		if cm == m {
			return true
		}
	}
	return false
}

// GroupsCreatingIn returns the groups whose creation-month set includes m.
func GroupsCreatingIn(m time.Month) []QuarterGroup {
	var groups []QuarterGroup
	for _, g := range []QuarterGroup{GroupJanAprJulOct, GroupFebMayAugNov, GroupMarJunSepDec} {
		if IsCreationMonth(g, m) {
			groups = append(groups, g)
		}
	}
	return groups
}

// ComputePeriod resolves, for the given group, the quarter whose end month
// falls in or before the reference date's month. The quarter spans three
// calendar months; the filing due date is the last calendar day of the month
// immediately after the quarter end. Any reference date resolves for any of
// the three groups, including across year boundaries.
func ComputePeriod(g QuarterGroup, ref time.Time) Period {
	year, refMonth := ref.Year(), ref.Month()

	endMonth := time.Month(0)
	for _, m := range endMonths[g] {
		if m <= refMonth && m > endMonth {
			endMonth = m
		}
	}
	if endMonth == 0 {
		// No end month in or before the reference month this year, so the
		// most recent quarter ended late last year.
		year--
		for _, m := range endMonths[g] {
			if m > endMonth {
				endMonth = m
			}
		}
	}

	end := lastDayOfMonth(year, endMonth)
	start := time.Date(end.Year(), end.Month()-2, 1, 0, 0, 0, 0, time.UTC)
	due := lastDayOfMonth(end.Year(), end.Month()+1)
	return Period{Start: start, End: end, FilingDue: due}
}

// lastDayOfMonth returns the final calendar day of the month, leap years
// included, by normalising day zero of the following month.
func lastDayOfMonth(year int, month time.Month) time.Time {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC)
}

// Overlaps reports whether the period shares any day with [start, end].
func (p Period) Overlaps(start, end time.Time) bool {
	return !p.Start.After(end) && !p.End.Before(start)
}
