package turtle

import (
	"errors"
	"image/color"
	"strconv"
	"strings"
)

var errNoSurface = errors.New("turtle: no backing surface")

// namedColors covers the palette exposed to lesson scripts.
var namedColors = map[string]color.RGBA{
	"black":   {0, 0, 0, 255},
	"white":   {255, 255, 255, 255},
	"red":     {230, 25, 25, 255},
	"green":   {25, 160, 60, 255},
	"blue":    {30, 80, 230, 255},
	"yellow":  {250, 210, 25, 255},
	"orange":  {250, 130, 20, 255},
	"purple":  {140, 60, 190, 255},
	"pink":    {250, 120, 180, 255},
	"brown":   {140, 90, 40, 255},
	"gray":    {128, 128, 128, 255},
	"grey":    {128, 128, 128, 255},
	"cyan":    {40, 200, 220, 255},
	"magenta": {230, 50, 200, 255},
}

// ParseColor resolves a color name or a #rgb/#rrggbb hex string. The
// boolean is false when the value is not recognized; callers treat that
// as "keep the current color" rather than an error, so a typo in a
// lesson script never aborts a drawing.
func ParseColor(s string) (color.Color, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if c, ok := namedColors[s]; ok {
		return c, true
	}
	if !strings.HasPrefix(s, "#") {
		return nil, false
	}
	hex := s[1:]
	if len(hex) == 3 {
		hex = string([]byte{hex[0], hex[0], hex[1], hex[1], hex[2], hex[2]})
	}
	if len(hex) != 6 {
		return nil, false
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return nil, false
	}
	return color.RGBA{
		R: uint8(v >> 16),
		G: uint8(v >> 8),
		B: uint8(v),
		A: 255,
	}, true
}
