// Package wire encodes and decodes the request and response frames of the
// face detection protocol. It performs no I/O beyond the io.Reader/
// io.Writer it is given and holds no state; the framing rules are those
// of spec section 4.1/6.3.
package wire

import (
	"encoding/binary"
	"errors"
	"io"

	"github.com/kstaniek/facedetect-server/internal/netio"
)

// Magic is the four-byte prefix that opens every frame in both
// directions, transmitted little-endian as the 32-bit value 0x23107231.
const Magic uint32 = 0x23107231

// Operation bytes.
const (
	OpDetect  byte = 0
	OpReplace byte = 1
	OpImage   byte = 2
	OpError   byte = 3
)

// Sentinel errors, one per row of the error table plus the out-of-band
// bad-prefix and peer-closed cases. Server code classifies failures with
// errors.Is against these.
var (
	ErrBadPrefix        = errors.New("wire: bad prefix")
	ErrInvalidMessage   = errors.New("wire: invalid message")
	ErrInvalidOperation = errors.New("wire: invalid operation type")
	ErrZeroImage        = errors.New("wire: image is 0 bytes")
	ErrImageTooLarge    = errors.New("wire: image too large")
	ErrInvalidImage     = errors.New("wire: invalid image")
	ErrNoFacesDetected  = errors.New("wire: no faces detected in image")
	ErrPeerClosed       = errors.New("wire: peer closed")
)

// ErrorPayload returns the exact UTF-8 payload text specified for an
// operation-3 error frame corresponding to err, per spec section 7. Only
// the error kinds that are surfaced to the peer (not ErrBadPrefix, which
// is handled out-of-band, and not ErrPeerClosed, which means there is no
// peer left to tell) have a payload.
func ErrorPayload(err error) (string, bool) {
	switch {
	case errors.Is(err, ErrInvalidMessage):
		return "invalid message", true
	case errors.Is(err, ErrInvalidOperation):
		return "invalid operation type", true
	case errors.Is(err, ErrZeroImage):
		return "image is 0 bytes", true
	case errors.Is(err, ErrImageTooLarge):
		return "image too large", true
	case errors.Is(err, ErrInvalidImage):
		return "invalid image", true
	case errors.Is(err, ErrNoFacesDetected):
		return "no faces detected in image", true
	default:
		return "", false
	}
}

// Request is a decoded request frame. Secondary is nil unless Op ==
// OpReplace.
type Request struct {
	Op        byte
	Primary   []byte
	Secondary []byte
}

// Response is a decoded or to-be-encoded response frame.
type Response struct {
	Op      byte
	Payload []byte
}

// NoImageLimit means the decoder enforces only the 32-bit wire-length
// ceiling, not an explicit application cap.
const NoImageLimit uint32 = 0

// readLengthPrefixedImage reads a 4-byte little-endian length followed by
// that many payload bytes, applying the zero-length and too-large checks
// of spec section 4.1.
func readLengthPrefixedImage(r io.Reader, maxImageBytes uint32) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := netio.ReadFull(r, lenBuf[:]); err != nil {
		return nil, ErrInvalidMessage
	}
	size := binary.LittleEndian.Uint32(lenBuf[:])
	if size == 0 {
		return nil, ErrZeroImage
	}
	if maxImageBytes != NoImageLimit && size > maxImageBytes {
		return nil, ErrImageTooLarge
	}
	buf := make([]byte, size)
	if _, err := netio.ReadFull(r, buf); err != nil {
		return nil, ErrInvalidMessage
	}
	return buf, nil
}
