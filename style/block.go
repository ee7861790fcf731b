package style

import (
	"github.com/reqlab/blockcanvas/lib/color"
	"github.com/reqlab/blockcanvas/model"
)

const DEFAULT_FONT_SIZE = 14.

// BlockResolved is a block's fully specified visual style.
type BlockResolved struct {
	Fill      string  `json:"fill"`
	Stroke    string  `json:"stroke"`
	TextColor string  `json:"textColor"`
	FontSize  float64 `json:"fontSize"`
}

var blockFills = map[model.Kind]string{
	model.KindSystem:    "#EEF2FF",
	model.KindSubsystem: "#F0F9FF",
	model.KindComponent: color.N7,
	model.KindActor:     "#FEF9C3",
	model.KindExternal:  "#F3F4F6",
	model.KindInterface: "#ECFDF5",
}

func blockDefault(kind model.Kind) BlockResolved {
	fill, ok := blockFills[kind]
	if !ok {
		fill = color.N7
	}
	return BlockResolved{
		Fill:      fill,
		Stroke:    color.N2,
		TextColor: color.N1,
		FontSize:  DEFAULT_FONT_SIZE,
	}
}

// ResolveBlock maps a block to its resolved style: explicit valid overrides
// win, otherwise the kind default. Total and idempotent like ResolveConnector.
func ResolveBlock(b *model.Block) BlockResolved {
	r := blockDefault(b.Kind)
	if b.Style.Background != nil && color.Valid(*b.Style.Background) {
		r.Fill = *b.Style.Background
	}
	if b.Style.Border != nil && color.Valid(*b.Style.Border) {
		r.Stroke = *b.Style.Border
	}
	if b.Style.TextColor != nil && color.Valid(*b.Style.TextColor) {
		r.TextColor = *b.Style.TextColor
	}
	if b.Style.FontSize != nil && *b.Style.FontSize > 0 {
		r.FontSize = *b.Style.FontSize
	}
	return r
}
