package payment

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/volatiletech/null/v8"
)

var complete = Facts{
	PaymentID:      1,
	AppointmentID:  "APT-1",
	EmployeeNumber: "E123",
	FinanceCode:    "XB123",
	RTWType:        "passport",
}

func TestChecker_Errors(t *testing.T) {
	today := time.Date(2025, time.May, 10, 15, 0, 0, 0, time.UTC)
	now := func() time.Time { return today }

	with := func(mod func(f *Facts)) Facts {
		f := complete
		mod(&f)
		return f
	}

	tests := []struct {
		name    string
		checker *Checker
		facts   Facts
		want    []string
	}{
		{
			name:    "all present",
			checker: DefaultChecker(false, now),
			facts:   complete,
			want:    []string{},
		},
		{
			name:    "missing appointment",
			checker: DefaultChecker(false, now),
			facts:   with(func(f *Facts) { f.AppointmentID = "" }),
			want:    []string{"Tutor has no appointment ID"},
		},
		{
			name:    "missing employee number",
			checker: DefaultChecker(false, now),
			facts:   with(func(f *Facts) { f.EmployeeNumber = "" }),
			want:    []string{"Tutor has no employee number"},
		},
		{
			name:    "missing finance code",
			checker: DefaultChecker(false, now),
			facts:   with(func(f *Facts) { f.FinanceCode = "" }),
			want:    []string{"Module has no finance code"},
		},
		{
			name:    "whitespace counts as missing",
			checker: DefaultChecker(true, now),
			facts: with(func(f *Facts) {
				f.AppointmentID = " "
				f.EmployeeNumber = "\t"
				f.FinanceCode = "  \n"
				f.RTWType = " "
			}),
			want: []string{
				"Tutor has no appointment ID",
				"Tutor has no employee number",
				"Module has no finance code",
				"Tutor has no right to work check",
			},
		},
		{
			name:    "everything missing, predicate order",
			checker: DefaultChecker(true, now),
			facts:   Facts{PaymentID: 9},
			want: []string{
				"Tutor has no appointment ID",
				"Tutor has no employee number",
				"Module has no finance code",
				"Tutor has no right to work check",
			},
		},
		{
			name:    "rtw ignored unless required",
			checker: DefaultChecker(false, now),
			facts:   with(func(f *Facts) { f.RTWType = "" }),
			want:    []string{},
		},
		{
			name:    "rtw expired",
			checker: DefaultChecker(true, now),
			facts:   with(func(f *Facts) { f.RTWEndDate = null.TimeFrom(today.AddDate(0, 0, -1)) }),
			want:    []string{"Tutor's right to work has expired"},
		},
		{
			name:    "rtw ends today",
			checker: DefaultChecker(true, now),
			facts:   with(func(f *Facts) { f.RTWEndDate = null.TimeFrom(time.Date(2025, time.May, 10, 0, 0, 0, 0, time.UTC)) }),
			want:    []string{},
		},
		{
			name:    "rtw without end date",
			checker: DefaultChecker(true, now),
			facts:   complete,
			want:    []string{},
		},
		{
			name:    "empty checker",
			checker: NewChecker(),
			facts:   Facts{},
			want:    []string{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.checker.Errors(tt.facts)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, len(tt.want) == 0, tt.checker.IsApprovable(tt.facts))
		})
	}
}

func TestChecker_concurrentUse(t *testing.T) {
	c := DefaultChecker(true, time.Now)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			f := complete
			if i%2 == 0 {
				f.FinanceCode = ""
			}
			if got := c.IsApprovable(f); got != (i%2 != 0) {
				t.Errorf("IsApprovable(#%d) = %v", i, got)
			}
		}(i)
	}
	wg.Wait()
}

func TestFilterEligible(t *testing.T) {
	c := DefaultChecker(false, time.Now)
	cand := func(id int, finance string) Candidate {
		f := complete
		f.PaymentID = id
		f.FinanceCode = finance
		return Candidate{Facts: f, Status: StatusRaised, Approver: "jdoe"}
	}

	got := FilterEligible(c, []Candidate{cand(7, "X"), cand(3, ""), cand(2, "Y"), cand(5, "Z")})
	assert.Equal(t, []int{2, 5, 7}, got)
	assert.Empty(t, FilterEligible(c, nil))
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusRaised, StatusApproved, true},
		{StatusRaised, StatusCancelled, true},
		{StatusRaised, StatusFailed, true},
		{StatusRaised, StatusTransferred, false},
		{StatusApproved, StatusTransferred, true},
		{StatusApproved, StatusRaised, false},
		{StatusApproved, StatusCancelled, false},
		{StatusTransferred, StatusRaised, false},
		{StatusCancelled, StatusRaised, false},
		{StatusFailed, StatusApproved, false},
		{Status("bogus"), StatusApproved, false},
	}
	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}

	for _, s := range []Status{StatusTransferred, StatusCancelled, StatusFailed} {
		assert.True(t, s.IsFinal(), s)
	}
	assert.False(t, StatusRaised.IsFinal())
	assert.True(t, StatusApproved.Valid())
	assert.False(t, Status("pending").Valid())
}
