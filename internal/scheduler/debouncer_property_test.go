//go:build property
// +build property

package scheduler

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestDebounceProperties(t *testing.T) {
	properties := gopter.NewProperties(nil)

	const delay = 800 * time.Millisecond

	properties.Property("one run per quiet period plus the trailing one", prop.ForAll(
		func(gapsMs []int) bool {
			clock := NewManualClock()
			d := New(delay, WithTimers(clock.AfterFunc))

			runs := 0
			last := -1
			expected := 1
			d.Schedule(func() { runs++; last = 0 })
			for i, gap := range gapsMs {
				g := time.Duration(gap) * time.Millisecond
				if g >= delay {
					expected++
				}
				clock.Advance(g)
				idx := i + 1
				d.Schedule(func() { runs++; last = idx })
			}
			clock.Advance(delay)

			return runs == expected && last == len(gapsMs)
		},
		gen.SliceOf(gen.IntRange(0, 2000)),
	))

	properties.TestingRun(t)
}
