package drawing

import (
	"crypto/md5"
	"encoding"
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
)

// LineSize is the encoded size of one Line.
const LineSize = 8

const scale = 65535

var ErrInvalidLineLength = errors.New("invalid line length")

// Point is a canvas position normalised to [0,1] on both axes.
type Point struct {
	X float64
	Y float64
}

// Line is one stroke segment, the unit sent over the network.
type Line struct {
	From Point
	To   Point
}

var (
	_ encoding.BinaryMarshaler   = Line{}
	_ encoding.BinaryUnmarshaler = (*Line)(nil)
)

func quantize(v float64) uint16 {
	if v <= 0 || math.IsNaN(v) {
		return 0
	}
	if v >= 1 {
		return scale
	}
	return uint16(math.Round(v * scale))
}

func dequantize(q uint16) float64 {
	return float64(q) / scale
}

// EncodeLine packs l as four little-endian uint16 values:
// fromX, fromY, toX, toY.
func EncodeLine(l Line) [LineSize]byte {
	var buf [LineSize]byte
	binary.LittleEndian.PutUint16(buf[0:2], quantize(l.From.X))
	binary.LittleEndian.PutUint16(buf[2:4], quantize(l.From.Y))
	binary.LittleEndian.PutUint16(buf[4:6], quantize(l.To.X))
	binary.LittleEndian.PutUint16(buf[6:8], quantize(l.To.Y))
	return buf
}

// DecodeLine is the inverse of EncodeLine. data must be exactly LineSize bytes.
func DecodeLine(data []byte) (Line, error) {
	if len(data) != LineSize {
		return Line{}, fmt.Errorf("%w: got %d bytes, want %d", ErrInvalidLineLength, len(data), LineSize)
	}
	return Line{
		From: Point{
			X: dequantize(binary.LittleEndian.Uint16(data[0:2])),
			Y: dequantize(binary.LittleEndian.Uint16(data[2:4])),
		},
		To: Point{
			X: dequantize(binary.LittleEndian.Uint16(data[4:6])),
			Y: dequantize(binary.LittleEndian.Uint16(data[6:8])),
		},
	}, nil
}

func (l Line) MarshalBinary() ([]byte, error) {
	buf := EncodeLine(l)
	return buf[:], nil
}

func (l *Line) UnmarshalBinary(data []byte) error {
	decoded, err := DecodeLine(data)
	if err != nil {
		return err
	}
	*l = decoded
	return nil
}

// EncodeLines concatenates the records of lines in order.
func EncodeLines(lines []Line) []byte {
	out := make([]byte, 0, len(lines)*LineSize)
	for _, l := range lines {
		buf := EncodeLine(l)
		out = append(out, buf[:]...)
	}
	return out
}

// DecodeLines splits data into LineSize records. A trailing partial record
// fails the whole buffer.
func DecodeLines(data []byte) ([]Line, error) {
	if len(data)%LineSize != 0 {
		return nil, fmt.Errorf("%w: buffer of %d bytes is not a multiple of %d", ErrInvalidLineLength, len(data), LineSize)
	}
	lines := make([]Line, 0, len(data)/LineSize)
	for i := 0; i < len(data); i += LineSize {
		l, err := DecodeLine(data[i : i+LineSize])
		if err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, nil
}

// EncodeBase64 is the text form used for RPC payloads.
func EncodeBase64(lines []Line) string {
	return base64.StdEncoding.EncodeToString(EncodeLines(lines))
}

func DecodeBase64(s string) ([]Line, error) {
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode base64 drawing: %w", err)
	}
	return DecodeLines(data)
}

// Hash identifies a drawing by its encoded content. Two drawings with the
// same lines in the same order hash equal.
func Hash(lines []Line) string {
	sum := md5.Sum(EncodeLines(lines))
	return hex.EncodeToString(sum[:])
}
