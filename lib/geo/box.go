package geo

import "fmt"

type Box struct {
	TopLeft *Point
	Width   float64
	Height  float64
}

func NewBox(tl *Point, width, height float64) *Box {
	return &Box{
		TopLeft: tl,
		Width:   width,
		Height:  height,
	}
}

func (b *Box) Copy() *Box {
	if b == nil {
		return nil
	}
	return NewBox(b.TopLeft.Copy(), b.Width, b.Height)
}

func (b *Box) Contains(p *Point) bool {
	return p.X >= b.TopLeft.X && p.X <= b.TopLeft.X+b.Width &&
		p.Y >= b.TopLeft.Y && p.Y <= b.TopLeft.Y+b.Height
}

// XPercent returns how far along the box's horizontal extent p sits, 0-100.
// Points outside the box saturate at the bounds.
func (b *Box) XPercent(p *Point) float64 {
	if b.Width == 0 {
		return 0
	}
	return Clamp((p.X-b.TopLeft.X)/b.Width*100, 0, 100)
}

// YPercent is XPercent for the vertical extent.
func (b *Box) YPercent(p *Point) float64 {
	if b.Height == 0 {
		return 0
	}
	return Clamp((p.Y-b.TopLeft.Y)/b.Height*100, 0, 100)
}

func (b *Box) ToString() string {
	if b == nil {
		return ""
	}
	return fmt.Sprintf("{TopLeft: %s, Width: %.0f, Height: %.0f}", b.TopLeft.ToString(), b.Width, b.Height)
}
