package wire

import (
	"encoding/binary"
	"errors"
	"io"

	"github.com/kstaniek/facedetect-server/internal/netio"
)

// ReadPrefix reads the 4-byte magic prefix from r and classifies the
// result:
//   - io.EOF: the peer closed the connection before sending any bytes of
//     the prefix (a clean boundary between requests).
//   - ErrInvalidMessage: some but not all of the 4 prefix bytes arrived
//     before the stream ended.
//   - ErrBadPrefix: all 4 bytes arrived but did not match Magic.
//   - nil: the prefix matched.
//
// This distinction (full-4-bytes-mismatched vs partial-then-EOF) is the
// open question spec.md section 9 resolves explicitly: only a complete,
// mismatched prefix triggers the bad-prefix file response.
func ReadPrefix(r io.Reader) error {
	var buf [4]byte
	n, err := io.ReadFull(r, buf[:])
	if err != nil {
		if n == 0 && errors.Is(err, io.EOF) {
			return io.EOF
		}
		return ErrInvalidMessage
	}
	if binary.LittleEndian.Uint32(buf[:]) != Magic {
		return ErrBadPrefix
	}
	return nil
}

// DecodeRequest reads one request frame from r, assuming the magic
// prefix has already been consumed and validated by ReadPrefix. maxImageBytes
// of NoImageLimit means only the 32-bit wire ceiling applies.
func DecodeRequest(r io.Reader, maxImageBytes uint32) (*Request, error) {
	var opBuf [1]byte
	if _, err := netio.ReadFull(r, opBuf[:]); err != nil {
		return nil, ErrInvalidMessage
	}
	op := opBuf[0]
	if op != OpDetect && op != OpReplace {
		return nil, ErrInvalidOperation
	}

	primary, err := readLengthPrefixedImage(r, maxImageBytes)
	if err != nil {
		return nil, err
	}

	req := &Request{Op: op, Primary: primary}
	if op == OpReplace {
		secondary, err := readLengthPrefixedImage(r, maxImageBytes)
		if err != nil {
			return nil, err
		}
		req.Secondary = secondary
	}
	return req, nil
}

// WriteResponse encodes and writes one response frame (prefix, op, 4-byte
// little-endian length, payload) to w. Any short write is reported as
// ErrPeerClosed per spec section 4.1.
func WriteResponse(w io.Writer, op byte, payload []byte) error {
	var header [9]byte
	binary.LittleEndian.PutUint32(header[0:4], Magic)
	header[4] = op
	binary.LittleEndian.PutUint32(header[5:9], uint32(len(payload)))
	if err := netio.WriteFull(w, header[:]); err != nil {
		return ErrPeerClosed
	}
	if len(payload) == 0 {
		return nil
	}
	if err := netio.WriteFull(w, payload); err != nil {
		return ErrPeerClosed
	}
	return nil
}

// WriteError writes an operation-3 error frame whose payload is msg.
func WriteError(w io.Writer, msg string) error {
	return WriteResponse(w, OpError, []byte(msg))
}

// WriteImage writes an operation-2 frame carrying an encoded image.
func WriteImage(w io.Writer, data []byte) error {
	return WriteResponse(w, OpImage, data)
}

// ReadResponse reads one response frame from r (used by the client).
// It returns ErrInvalidMessage for a short read or a magic mismatch and
// ErrInvalidOperation for an operation byte other than OpImage/OpError;
// the caller maps both to its own communication-error vocabulary.
func ReadResponse(r io.Reader) (*Response, error) {
	var prefix [4]byte
	if _, err := netio.ReadFull(r, prefix[:]); err != nil {
		return nil, ErrInvalidMessage
	}
	if binary.LittleEndian.Uint32(prefix[:]) != Magic {
		return nil, ErrInvalidMessage
	}
	var opBuf [1]byte
	if _, err := netio.ReadFull(r, opBuf[:]); err != nil {
		return nil, ErrInvalidMessage
	}
	op := opBuf[0]
	if op != OpImage && op != OpError {
		return nil, ErrInvalidOperation
	}
	var lenBuf [4]byte
	if _, err := netio.ReadFull(r, lenBuf[:]); err != nil {
		return nil, ErrInvalidMessage
	}
	size := binary.LittleEndian.Uint32(lenBuf[:])
	payload := make([]byte, size)
	if size > 0 {
		if _, err := netio.ReadFull(r, payload); err != nil {
			return nil, ErrInvalidMessage
		}
	}
	return &Response{Op: op, Payload: payload}, nil
}
