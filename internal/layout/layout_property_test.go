//go:build property
// +build property

package layout

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

type drag struct {
	X, Y     float64
	Viewport float64
}

func genDrag() gopter.Gen {
	return gopter.CombineGens(
		gen.Float64Range(-5000, 5000),
		gen.Float64Range(-5000, 5000),
		gen.Float64Range(0, 3000),
	).Map(func(vals []interface{}) drag {
		return drag{X: vals[0].(float64), Y: vals[1].(float64), Viewport: vals[2].(float64)}
	})
}

func TestSplitProperties(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("split stays within bounds for any pointer path", prop.ForAll(
		func(moves []drag, width, height float64) bool {
			c := NewController()
			c.Down()
			container := Rect{Left: 10, Top: 20, Width: width, Height: height}
			for _, m := range moves {
				c.Move(Point{X: m.X, Y: m.Y}, container, m.Viewport)
				if c.Split() < MinSplit || c.Split() > MaxSplit {
					return false
				}
			}
			c.Up()
			return c.Split() >= MinSplit && c.Split() <= MaxSplit && !c.SuppressPreviewPointer()
		},
		gen.SliceOf(genDrag()),
		gen.Float64Range(0, 4000),
		gen.Float64Range(0, 4000),
	))

	properties.Property("pointer suppression holds exactly while dragging", prop.ForAll(
		func(ops []int) bool {
			c := NewController()
			for _, op := range ops {
				switch op {
				case 0:
					c.Down()
				case 1:
					c.Up()
				default:
					c.Move(Point{X: 500}, Rect{Width: 1000, Height: 1000}, 1200)
				}
				if c.SuppressPreviewPointer() != (c.State() == Dragging) {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.IntRange(0, 2)),
	))

	properties.TestingRun(t)
}
