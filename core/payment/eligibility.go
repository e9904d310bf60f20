package payment

import (
	"sort"
	"strings"
	"time"
)

// Predicate is a named approval precondition. Check returns an empty string when the facts
// satisfy it, or the reason they don't.
type Predicate struct {
	Name  string
	Check func(f Facts) string
}

func HasAppointmentID() Predicate {
	return Predicate{
		Name: "appointment_id",
		Check: func(f Facts) string {
			if blank(f.AppointmentID) {
				return "Tutor has no appointment ID"
			}
			return ""
		},
	}
}

func HasEmployeeNumber() Predicate {
	return Predicate{
		Name: "employee_no",
		Check: func(f Facts) string {
			if blank(f.EmployeeNumber) {
				return "Tutor has no employee number"
			}
			return ""
		},
	}
}

func HasFinanceCode() Predicate {
	return Predicate{
		Name: "finance_code",
		Check: func(f Facts) string {
			if blank(f.FinanceCode) {
				return "Module has no finance code"
			}
			return ""
		},
	}
}

// HasValidRTW requires a right-to-work document that has not expired at now().
// An RTW without an end date never expires.
func HasValidRTW(now func() time.Time) Predicate {
	return Predicate{
		Name: "rtw",
		Check: func(f Facts) string {
			if blank(f.RTWType) {
				return "Tutor has no right to work check"
			}
			if f.RTWEndDate.Valid && dateOf(f.RTWEndDate.Time).Before(dateOf(now())) {
				return "Tutor's right to work has expired"
			}
			return ""
		},
	}
}

func dateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Checker evaluates a fixed set of predicates. It holds no state and is safe for concurrent use.
type Checker struct {
	preds []Predicate
}

func NewChecker(preds ...Predicate) *Checker {
	return &Checker{preds: preds}
}

// DefaultChecker returns the checker used for approvals; the right-to-work check is only
// enforced when requireRTW is set.
func DefaultChecker(requireRTW bool, now func() time.Time) *Checker {
	preds := []Predicate{HasAppointmentID(), HasEmployeeNumber(), HasFinanceCode()}
	if requireRTW {
		preds = append(preds, HasValidRTW(now))
	}
	return NewChecker(preds...)
}

// Errors returns the reason of every failed predicate, in predicate order.
func (c *Checker) Errors(f Facts) []string {
	errs := make([]string, 0)
	for _, p := range c.preds {
		if reason := p.Check(f); reason != "" {
			errs = append(errs, reason)
		}
	}
	return errs
}

func (c *Checker) IsApprovable(f Facts) bool {
	for _, p := range c.preds {
		if p.Check(f) != "" {
			return false
		}
	}
	return true
}

// FilterEligible returns, in ascending order, the ids of the approvable candidates.
func FilterEligible(c *Checker, candidates []Candidate) []int {
	ids := make([]int, 0, len(candidates))
	for _, cand := range candidates {
		if c.IsApprovable(cand.Facts) {
			ids = append(ids, cand.PaymentID)
		}
	}
	sort.Ints(ids)
	return ids
}

func blank(s string) bool {
	return strings.TrimSpace(s) == ""
}
