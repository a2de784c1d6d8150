// Package glyph lays out text as textured quads over a multi-channel signed
// distance field (MSDF) font atlas.
package glyph

import (
	"encoding/json"
	"io"

	"github.com/pkg/errors"
)

// Fallback is drawn for runes missing from the atlas.
const Fallback = '?'

// VerticesPerQuad is the vertex count of one glyph quad (two triangles).
const VerticesPerQuad = 6

// CharMetrics locates one glyph in the atlas, in atlas pixels.
type CharMetrics struct {
	ID       int     `json:"id"`
	Char     string  `json:"char"`
	X        float32 `json:"x"`
	Y        float32 `json:"y"`
	Width    float32 `json:"width"`
	Height   float32 `json:"height"`
	XOffset  float32 `json:"xoffset"`
	YOffset  float32 `json:"yoffset"`
	XAdvance float32 `json:"xadvance"`
}

// Kerning adjusts the advance between two glyph ids.
type Kerning struct {
	First  int     `json:"first"`
	Second int     `json:"second"`
	Amount float32 `json:"amount"`
}

// Metrics is the font definition emitted by msdf-bmfont style generators.
type Metrics struct {
	Chars    []CharMetrics `json:"chars"`
	Kernings []Kerning     `json:"kernings"`
}

// LoadMetrics decodes a JSON font definition.
func LoadMetrics(r io.Reader) (*Metrics, error) {
	var m Metrics
	if err := json.NewDecoder(r).Decode(&m); err != nil {
		return nil, errors.Wrap(err, "decode font metrics")
	}
	if len(m.Chars) == 0 {
		return nil, errors.New("font metrics contain no glyphs")
	}
	return &m, nil
}

// Char is the placement of one glyph within a laid-out string.
type Char struct {
	XY   [2]float32 // top-left on the output canvas
	UV   [2]float32 // top-left in the atlas
	Size [2]float32 // extent in the atlas and on the canvas
}

// Geometry is a laid-out string.
type Geometry struct {
	Width float32
	Chars []Char
}

type kerningKey struct{ first, second int }

// Builder turns strings into Geometry. Safe for concurrent use after
// construction.
type Builder struct {
	chars    map[rune]CharMetrics
	kernings map[kerningKey]float32
	fallback CharMetrics
}

// NewBuilder indexes m. The fallback glyph must be present.
func NewBuilder(m *Metrics) (*Builder, error) {
	b := &Builder{
		chars:    make(map[rune]CharMetrics, len(m.Chars)),
		kernings: make(map[kerningKey]float32, len(m.Kernings)),
	}
	for _, c := range m.Chars {
		r := []rune(c.Char)
		if len(r) != 1 {
			return nil, errors.Errorf("glyph %d: char %q is not a single rune", c.ID, c.Char)
		}
		b.chars[r[0]] = c
	}
	for _, k := range m.Kernings {
		b.kernings[kerningKey{k.First, k.Second}] = k.Amount
	}

	fb, ok := b.chars[Fallback]
	if !ok {
		return nil, errors.Errorf("font has no fallback glyph %q", Fallback)
	}
	b.fallback = fb
	return b, nil
}

func (b *Builder) lookup(r rune) CharMetrics {
	if c, ok := b.chars[r]; ok {
		return c
	}
	return b.fallback
}

// TextToGeometry lays out text left to right. Each glyph's pen position is
// the running width plus its x offset plus the kerning against the previous
// glyph; the width then advances by xadvance plus that kerning.
func (b *Builder) TextToGeometry(text string) Geometry {
	g := Geometry{Chars: make([]Char, 0, len(text))}
	prevID, first := 0, true
	for _, r := range text {
		c := b.lookup(r)
		var kerning float32
		if !first {
			kerning = b.kernings[kerningKey{prevID, c.ID}]
		}
		g.Chars = append(g.Chars, Char{
			XY:   [2]float32{g.Width + c.XOffset + kerning, c.YOffset},
			UV:   [2]float32{c.X, c.Y},
			Size: [2]float32{c.Width, c.Height},
		})
		g.Width += c.XAdvance + kerning
		prevID, first = c.ID, false
	}
	return g
}

// Quads expands g into per-vertex canvas positions and atlas coordinates,
// two floats per vertex and VerticesPerQuad vertices per glyph.
func (g Geometry) Quads() (positions, uvs []float32) {
	positions = make([]float32, 0, len(g.Chars)*VerticesPerQuad*2)
	uvs = make([]float32, 0, len(g.Chars)*VerticesPerQuad*2)
	for _, c := range g.Chars {
		positions = appendQuad(positions, c.XY, c.Size)
		uvs = appendQuad(uvs, c.UV, c.Size)
	}
	return positions, uvs
}

func appendQuad(dst []float32, origin, size [2]float32) []float32 {
	x, y := origin[0], origin[1]
	w, h := size[0], size[1]
	return append(dst,
		x, y,
		x+w, y,
		x+w, y+h,
		x, y,
		x, y+h,
		x+w, y+h,
	)
}
