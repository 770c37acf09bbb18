package vat

import (
	"testing"
	"time"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestComputePeriodDeterministic(t *testing.T) {
	// Group ending Mar/Jun/Sep/Dec referenced anywhere in July resolves to
	// the April-June quarter with filing due at the end of July.
	for day := 1; day <= 31; day++ {
		p := ComputePeriod(GroupMarJunSepDec, date(2024, time.July, day))
		if !p.Start.Equal(date(2024, time.April, 1)) {
			t.Fatalf("day %d: start = %s", day, p.Start)
		}
		if !p.End.Equal(date(2024, time.June, 30)) {
			t.Fatalf("day %d: end = %s", day, p.End)
		}
		if !p.FilingDue.Equal(date(2024, time.July, 31)) {
			t.Fatalf("day %d: due = %s", day, p.FilingDue)
		}
	}
}

func TestComputePeriodTable(t *testing.T) {
	tests := []struct {
		name            string
		group           QuarterGroup
		ref             time.Time
		start, end, due time.Time
	}{
		{
			name:  "acme scenario",
			group: GroupJanAprJulOct,
			ref:   date(2024, time.May, 1),
			start: date(2024, time.February, 1),
			end:   date(2024, time.April, 30),
			due:   date(2024, time.May, 31),
		},
		{
			name:  "january end starts previous november",
			group: GroupJanAprJulOct,
			ref:   date(2024, time.February, 1),
			start: date(2023, time.November, 1),
			end:   date(2024, time.January, 31),
			due:   date(2024, time.February, 29),
		},
		{
			name:  "reference before first end month wraps to previous year",
			group: GroupMarJunSepDec,
			ref:   date(2024, time.January, 15),
			start: date(2023, time.October, 1),
			end:   date(2023, time.December, 31),
			due:   date(2024, time.January, 31),
		},
		{
			name:  "february group in january wraps to november",
			group: GroupFebMayAugNov,
			ref:   date(2025, time.January, 3),
			start: date(2024, time.September, 1),
			end:   date(2024, time.November, 30),
			due:   date(2024, time.December, 31),
		},
		{
			name:  "december end dues into next january",
			group: GroupMarJunSepDec,
			ref:   date(2023, time.December, 31),
			start: date(2023, time.October, 1),
			end:   date(2023, time.December, 31),
			due:   date(2024, time.January, 31),
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p := ComputePeriod(tc.group, tc.ref)
			if !p.Start.Equal(tc.start) || !p.End.Equal(tc.end) || !p.FilingDue.Equal(tc.due) {
				t.Fatalf("got (%s, %s, %s), want (%s, %s, %s)",
					p.Start.Format("2006-01-02"), p.End.Format("2006-01-02"), p.FilingDue.Format("2006-01-02"),
					tc.start.Format("2006-01-02"), tc.end.Format("2006-01-02"), tc.due.Format("2006-01-02"))
			}
		})
	}
}

func TestFilingDueLeapYears(t *testing.T) {
	// End of January files by end of February, leap or not.
	leap := ComputePeriod(GroupJanAprJulOct, date(2024, time.January, 31))
	if !leap.FilingDue.Equal(date(2024, time.February, 29)) {
		t.Fatalf("2024 due = %s, want 2024-02-29", leap.FilingDue)
	}
	common := ComputePeriod(GroupJanAprJulOct, date(2023, time.January, 31))
	if !common.FilingDue.Equal(date(2023, time.February, 28)) {
		t.Fatalf("2023 due = %s, want 2023-02-28", common.FilingDue)
	}
}

func TestPeriodLabel(t *testing.T) {
	p := ComputePeriod(GroupMarJunSepDec, date(2024, time.July, 10))
	if got, want := p.Label(), "2024-04-01_to_2024-06-30"; got != want {
		t.Fatalf("label = %q, want %q", got, want)
	}
}

func TestCreationMonths(t *testing.T) {
	tests := []struct {
		group  QuarterGroup
		months [4]time.Month
	}{
		{GroupJanAprJulOct, [4]time.Month{time.February, time.May, time.August, time.November}},
		{GroupFebMayAugNov, [4]time.Month{time.March, time.June, time.September, time.December}},
		{GroupMarJunSepDec, [4]time.Month{time.April, time.July, time.October, time.January}},
	}
	for _, tc := range tests {
		for _, m := range tc.months {
			if !IsCreationMonth(tc.group, m) {
				t.Errorf("group %s should create in %s", tc.group, m)
			}
		}
	}
	// Every month belongs to exactly one group's creation set.
	for m := time.January; m <= time.December; m++ {
		if got := len(GroupsCreatingIn(m)); got != 1 {
			t.Errorf("%s maps to %d groups, want 1", m, got)
		}
	}
}

func TestPeriodOverlaps(t *testing.T) {
	p := Period{Start: date(2024, time.February, 1), End: date(2024, time.April, 30)}
	if !p.Overlaps(date(2024, time.April, 30), date(2024, time.July, 31)) {
		t.Fatal("touching ranges should overlap")
	}
	if p.Overlaps(date(2024, time.May, 1), date(2024, time.July, 31)) {
		t.Fatal("adjacent ranges should not overlap")
	}
}
