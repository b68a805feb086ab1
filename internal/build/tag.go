package build

import "time"

// tagLayout gives one distinct tag per wall-clock second, which is
// unique at any practical run frequency
const tagLayout = "20060102-150405"

// TagGenerator produces run-unique image tags from the wall clock.
// Generation is total: it always yields a value and never errors.
type TagGenerator struct {
	now func() time.Time
}

// NewTagGenerator creates a generator backed by the system clock
func NewTagGenerator() *TagGenerator {
	return &TagGenerator{now: time.Now}
}

// NewTagGeneratorWithClock creates a generator with an injected clock.
// Used in tests; a nil clock falls back to the system clock.
func NewTagGeneratorWithClock(now func() time.Time) *TagGenerator {
	if now == nil {
		now = time.Now
	}
	return &TagGenerator{now: now}
}

// Next returns a fresh build tag
func (g *TagGenerator) Next() string {
	return g.now().UTC().Format(tagLayout)
}
