package tcptunnel

import (
	"encoding/binary"
	"fmt"

	"github.com/artie-robotics/can-stack/internal/backend"
	"github.com/artie-robotics/can-stack/internal/frame"
)

// FixedFrameSize is the constant size of one frame's wire encoding:
// 1 byte extended flag + 4 bytes big-endian identifier + 1 byte length +
// 8 data bytes, always the same regardless of the frame's actual length
// so the length prefix on the wire never varies.
const FixedFrameSize = 1 + 4 + 1 + frame.MaxDataLen

// LengthPrefixSize is the width of the network-order length field
// preceding every frame encoding on the wire.
const LengthPrefixSize = 4

// encodeFrame writes fr's fixed-size wire encoding into dst, which must be
// at least FixedFrameSize bytes.
func encodeFrame(dst []byte, fr frame.Frame) error {
	if len(dst) < FixedFrameSize {
		return fmt.Errorf("%w: need %d bytes", backend.ErrBufferTooSmall, FixedFrameSize)
	}
	if fr.Extended {
		dst[0] = 1
	} else {
		dst[0] = 0
	}
	binary.BigEndian.PutUint32(dst[1:5], fr.ID&frame.IdentifierMask)
	dst[5] = fr.Len
	copy(dst[6:6+frame.MaxDataLen], fr.Data[:])
	return nil
}

// decodeFrame parses a FixedFrameSize-byte wire encoding.
func decodeFrame(src []byte) (frame.Frame, error) {
	if len(src) < FixedFrameSize {
		return frame.Frame{}, fmt.Errorf("%w: short frame encoding", backend.ErrInvalidFrame)
	}
	var fr frame.Frame
	fr.Extended = src[0] != 0
	fr.ID = binary.BigEndian.Uint32(src[1:5]) & frame.IdentifierMask
	ln := src[5]
	if ln > frame.MaxDataLen {
		return frame.Frame{}, fmt.Errorf("%w: data length %d exceeds %d", backend.ErrInvalidFrame, ln, frame.MaxDataLen)
	}
	fr.Len = ln
	copy(fr.Data[:], src[6:6+frame.MaxDataLen])
	return fr, nil
}

// putLengthPrefix writes the fixed network-order length prefix, which is
// always FixedFrameSize (spec.md §6).
func putLengthPrefix(dst []byte) {
	binary.BigEndian.PutUint32(dst, uint32(FixedFrameSize))
}
