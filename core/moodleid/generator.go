// Package moodleid issues the unique integer IDs students are given for their Moodle (VLE) accounts.
//
// IDs come from a monotonic sequence whose watermark is the highest ID already assigned to a
// student, and never fall below a floor derived from the current year (two-digit year * 100000).
// A Generator alone is not safe across processes: two generators built from the same watermark
// hand out the same first value. Service claims each value against the unique moodle_id
// constraint and retries on conflict.
package moodleid

import "time"

const yearMultiplier = 100000

// Floor returns the lowest Moodle ID that may be issued in the year of t.
func Floor(t time.Time) int {
	return (t.Year() % 100) * yearMultiplier
}

// Generator is an unbounded, strictly increasing sequence of candidate IDs.
// It cannot be rewound: build a new one from a freshly read watermark instead.
type Generator struct {
	last int
}

// NewGenerator starts a sequence after watermark (0 when no ID was ever assigned),
// lifted to the year floor of now.
func NewGenerator(watermark int, now time.Time) *Generator {
	last := watermark
	if floor := Floor(now); last < floor-1 {
		last = floor - 1
	}
	return &Generator{last: last}
}

// Next returns the next candidate ID.
func (g *Generator) Next() int {
	g.last++
	return g.last
}
