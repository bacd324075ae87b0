package photosensitive

import (
	"encoding/binary"
	"errors"
)

var (
	errSignature = errors.New("gif: bad signature")
	errTruncated = errors.New("gif: truncated data")
	errBlock     = errors.New("gif: unknown block")
)

// structure is what a block walk reveals without decoding pixels.
type structure struct {
	width, height        int
	maxFrameW, maxFrameH int
	frames               int
	area                 int64
	capped               bool
}

func hasGIFSignature(data []byte) bool {
	if len(data) < 6 {
		return false
	}
	sig := string(data[:6])
	return sig == "GIF87a" || sig == "GIF89a"
}

// scanStructure walks the GIF block layout, counting image descriptors up
// to frameCap.
func scanStructure(data []byte, frameCap int) (structure, error) {
	var s structure
	if !hasGIFSignature(data) {
		return s, errSignature
	}
	if len(data) < 13 {
		return s, errTruncated
	}
	s.width = int(binary.LittleEndian.Uint16(data[6:8]))
	s.height = int(binary.LittleEndian.Uint16(data[8:10]))
	pos := 13
	if packed := data[10]; packed&0x80 != 0 {
		pos += 3 << ((packed & 0x07) + 1)
	}

	for {
		if pos >= len(data) {
			return s, errTruncated
		}
		switch data[pos] {
		case 0x3B:
			return s, nil
		case 0x21:
			if pos+2 > len(data) {
				return s, errTruncated
			}
			next, err := skipSubBlocks(data, pos+2)
			if err != nil {
				return s, err
			}
			pos = next
		case 0x2C:
			if pos+10 > len(data) {
				return s, errTruncated
			}
			w := int(binary.LittleEndian.Uint16(data[pos+5 : pos+7]))
			h := int(binary.LittleEndian.Uint16(data[pos+7 : pos+9]))
			packed := data[pos+9]
			pos += 10
			if packed&0x80 != 0 {
				pos += 3 << ((packed & 0x07) + 1)
			}
			// LZW minimum code size
			pos++
			next, err := skipSubBlocks(data, pos)
			if err != nil {
				return s, err
			}
			pos = next

			s.frames++
			s.area += int64(w) * int64(h)
			if w > s.maxFrameW {
				s.maxFrameW = w
			}
			if h > s.maxFrameH {
				s.maxFrameH = h
			}
			if s.frames >= frameCap {
				s.capped = true
				return s, nil
			}
		default:
			return s, errBlock
		}
	}
}

func skipSubBlocks(data []byte, pos int) (int, error) {
	for {
		if pos >= len(data) {
			return pos, errTruncated
		}
		n := int(data[pos])
		pos++
		if n == 0 {
			return pos, nil
		}
		pos += n
	}
}
