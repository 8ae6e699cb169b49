package preview

import (
	"github.com/conneroisu/fxlab/internal/registry"
	"github.com/conneroisu/fxlab/internal/renderer"
	"github.com/conneroisu/fxlab/internal/sandbox"
)

// Card is one gallery entry: the effect, its document and the attributes of
// the frame that shows it.
type Card struct {
	Effect   registry.Effect
	Document renderer.Document
	Frame    sandbox.FrameAttrs
}

// Gallery is the set of cards for a catalog listing. Each card is
// synthesized once, when the gallery is built; cards never reload.
type Gallery struct {
	cards []Card
}

// NewGallery builds cards for effects in order. Frames are drawn at scale
// and ignore the pointer.
func NewGallery(effects []registry.Effect, scale float64) *Gallery {
	frame := sandbox.Frame(sandbox.Default(), scale)
	cards := make([]Card, 0, len(effects))
	for _, e := range effects {
		cards = append(cards, Card{
			Effect:   e,
			Document: renderer.Synthesize(e.Code, renderer.VariantGallery),
			Frame:    frame,
		})
	}
	return &Gallery{cards: cards}
}

// Cards returns the cards in catalog order.
func (g *Gallery) Cards() []Card {
	out := make([]Card, len(g.cards))
	copy(out, g.cards)
	return out
}

func (g *Gallery) Len() int {
	return len(g.cards)
}
