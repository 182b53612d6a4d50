// Package vision adapts the face/eye detection and image codec capability
// the core protocol treats as opaque (spec section 1) onto a concrete
// OpenCV backend. It also owns the two pieces of shared mutable state the
// original program guarded with pthread mutexes: the scratch file used to
// round-trip image bytes through the codec, and the Haar cascade
// classifiers themselves.
package vision

import (
	"errors"
	"sync"

	"github.com/kstaniek/facedetect-server/internal/wire"
)

// Face is a detected rectangle in image-pixel coordinates, matching the
// CvRect the original C server reads out of a CvSeq.
type Face struct {
	X, Y, Width, Height int
}

// Result is the outcome of a detect or replace operation: the annotated
// (or face-replaced) image bytes ready to send back on the wire, and the
// faces found in the primary image.
type Result struct {
	Image []byte
	Faces []Face
}

// Detector performs face/eye detection and drawing, and face replacement,
// on encoded image bytes. Implementations decode, operate, and re-encode;
// callers only ever see bytes in and bytes out, exactly the abstraction
// spec section 1 calls "opaque: FaceDetector/ImageCodec capabilities."
type Detector interface {
	// Detect decodes primary, finds faces, draws face/eye annotations, and
	// returns the re-encoded image plus the faces found. ErrInvalidImage if
	// primary cannot be decoded; ErrNoFacesDetected if zero faces are found.
	Detect(primary []byte) (Result, error)

	// Replace decodes both images, finds faces in primary, overlays
	// secondary onto each detected face region, and returns the
	// re-encoded composite. ErrInvalidImage if either input cannot be
	// decoded; ErrNoFacesDetected if zero faces are found in primary.
	Replace(primary, secondary []byte) (Result, error)
}

// ErrDetectorUnavailable is returned by the build-tag stub when no OpenCV
// backend was compiled in.
var ErrDetectorUnavailable = errors.New("vision: detector unavailable on this build")

// Broker serializes access to the two shared resources every Detect/Replace
// call touches: the scratch file (fileMu) and the cascade classifiers
// (cascadeMu), mirroring facedetect.c's fileLock/cascadeLock pthread
// mutexes. A Broker wraps a concrete Detector and presents the same
// interface, so internal/session only ever depends on Detector.
type Broker struct {
	fileMu     sync.Mutex
	cascadeMu  sync.Mutex
	underlying Detector
}

// NewBroker wraps d with the file/cascade locking discipline.
func NewBroker(d Detector) *Broker {
	return &Broker{underlying: d}
}

func (b *Broker) Detect(primary []byte) (Result, error) {
	b.fileMu.Lock()
	defer b.fileMu.Unlock()
	b.cascadeMu.Lock()
	defer b.cascadeMu.Unlock()
	return b.underlying.Detect(primary)
}

func (b *Broker) Replace(primary, secondary []byte) (Result, error) {
	b.fileMu.Lock()
	defer b.fileMu.Unlock()
	b.cascadeMu.Lock()
	defer b.cascadeMu.Unlock()
	return b.underlying.Replace(primary, secondary)
}

// classify maps a detector-internal failure onto the wire-level error
// vocabulary internal/session uses to pick a response payload.
func classify(faces []Face, decodeFailed bool) error {
	if decodeFailed {
		return wire.ErrInvalidImage
	}
	if len(faces) == 0 {
		return wire.ErrNoFacesDetected
	}
	return nil
}
