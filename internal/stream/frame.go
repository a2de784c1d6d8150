package stream

import (
	"encoding/binary"
	"math"

	"github.com/pkg/errors"

	"github.com/1valdis/heavensat-web/internal/propagation"
)

// FrameHeaderSize is the fixed prefix of a binary result frame:
// version (u64), then the element counts of the three buffers (u32 each).
const FrameHeaderSize = 8 + 4*3

var errShortFrame = errors.New("truncated result frame")

// EncodeFrame serialises one aggregated result as a little-endian binary
// frame: the header followed by Positions (f32), IDsAndShadow (i32) and
// Texts (f32), each densely packed.
func EncodeFrame(version uint64, r propagation.Result) []byte {
	size := FrameHeaderSize + 4*(len(r.Positions)+len(r.IDsAndShadow)+len(r.Texts))
	buf := make([]byte, 0, size)

	buf = binary.LittleEndian.AppendUint64(buf, version)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(r.Positions)))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(r.IDsAndShadow)))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(r.Texts)))

	for _, f := range r.Positions {
		buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(f))
	}
	for _, id := range r.IDsAndShadow {
		buf = binary.LittleEndian.AppendUint32(buf, uint32(id))
	}
	for _, f := range r.Texts {
		buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(f))
	}
	return buf
}

// DecodeFrame is the inverse of EncodeFrame.
func DecodeFrame(data []byte) (uint64, propagation.Result, error) {
	if len(data) < FrameHeaderSize {
		return 0, propagation.Result{}, errShortFrame
	}
	le := binary.LittleEndian
	version := le.Uint64(data)
	nPos := int(le.Uint32(data[8:]))
	nIDs := int(le.Uint32(data[12:]))
	nTexts := int(le.Uint32(data[16:]))
	if len(data) != FrameHeaderSize+4*(nPos+nIDs+nTexts) {
		return 0, propagation.Result{}, errShortFrame
	}

	p := data[FrameHeaderSize:]
	r := propagation.Result{
		Positions:    make([]float32, nPos),
		IDsAndShadow: make([]int32, nIDs),
		Texts:        make([]float32, nTexts),
	}
	for i := range r.Positions {
		r.Positions[i] = math.Float32frombits(le.Uint32(p))
		p = p[4:]
	}
	for i := range r.IDsAndShadow {
		r.IDsAndShadow[i] = int32(le.Uint32(p))
		p = p[4:]
	}
	for i := range r.Texts {
		r.Texts[i] = math.Float32frombits(le.Uint32(p))
		p = p[4:]
	}
	return version, r, nil
}
