package glyph

// GridMetrics describes a fixed-cell atlas holding printable ASCII (0x20 to
// 0x7e) row by row, columns wide. It is the font used when no MSDF
// definition is configured.
func GridMetrics(cellWidth, cellHeight float32, columns int) *Metrics {
	if columns <= 0 {
		columns = 16
	}
	m := &Metrics{}
	for i, r := 0, rune(0x20); r <= 0x7e; i, r = i+1, r+1 {
		m.Chars = append(m.Chars, CharMetrics{
			ID:       int(r),
			Char:     string(r),
			X:        float32(i%columns) * cellWidth,
			Y:        float32(i/columns) * cellHeight,
			Width:    cellWidth,
			Height:   cellHeight,
			XAdvance: cellWidth,
		})
	}
	return m
}
