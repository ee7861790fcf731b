// Package color parses and adjusts CSS colors for connector and block styling.
package color

import (
	"github.com/lucasb-eyer/go-colorful"
	"github.com/mazznoer/csscolorparser"
)

const (
	Empty = ""

	// Foreground/background neutrals used when a block carries no overrides.
	N1 = "#0A0F25"
	N2 = "#676C7E"
	N7 = "#FFFFFF"
)

// Valid reports whether s parses as a CSS color. The empty string is not a
// color; callers treat it as "no override".
func Valid(s string) bool {
	if s == Empty {
		return false
	}
	_, err := csscolorparser.Parse(s)
	return err == nil
}

func Darken(colorString string) (string, error) {
	c, err := csscolorparser.Parse(colorString)
	if err != nil {
		return "", err
	}
	h, s, l := colorful.Color{R: c.R, G: c.G, B: c.B}.Hsl()
	// decrease luminance by 10%
	return colorful.Hsl(h, s, l-.1).Clamped().Hex(), nil
}

func Lighten(colorString string) (string, error) {
	c, err := csscolorparser.Parse(colorString)
	if err != nil {
		return "", err
	}
	h, s, l := colorful.Color{R: c.R, G: c.G, B: c.B}.Hsl()
	return colorful.Hsl(h, s, l+.1).Clamped().Hex(), nil
}

func Luminance(colorString string) (float64, error) {
	c, err := csscolorparser.Parse(colorString)
	if err != nil {
		return 0, err
	}

	return 0.299*c.R + 0.587*c.G + 0.114*c.B, nil
}
