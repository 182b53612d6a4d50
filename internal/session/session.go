// Package session implements the per-connection worker state machine:
// repeatedly decode one request, dispatch it to detection or replacement,
// encode one response, and loop until the peer closes or a framing/
// semantic error forces teardown. One Worker serves exactly one
// connection and is never shared across goroutines.
package session

import (
	"errors"
	"io"
	"log/slog"
	"net"

	"github.com/kstaniek/facedetect-server/internal/metrics"
	"github.com/kstaniek/facedetect-server/internal/stats"
	"github.com/kstaniek/facedetect-server/internal/vision"
	"github.com/kstaniek/facedetect-server/internal/wire"
)

// BadPrefixPayload supplies the verbatim bytes of the pre-configured
// bad-prefix response file (spec section 4.1's "canned file payload").
// It is a function rather than a []byte so the server can reload the
// file without restarting workers, mirroring facedetect.c's
// send_prefix_file reading the file fresh on every bad-prefix event.
type BadPrefixPayload func() ([]byte, error)

// Worker drives one connection through the Ready/ReadingPrefix/.../
// Responding/Ready loop of spec section 4.2.
type Worker struct {
	conn           net.Conn
	detector       vision.Detector
	stats          *stats.Statistics
	maxImageBytes  uint32
	badPrefixBytes BadPrefixPayload
	log            *slog.Logger
}

// New constructs a Worker for an already-accepted connection.
func New(conn net.Conn, detector vision.Detector, st *stats.Statistics, maxImageBytes uint32, badPrefix BadPrefixPayload, log *slog.Logger) *Worker {
	return &Worker{
		conn:           conn,
		detector:       detector,
		stats:          st,
		maxImageBytes:  maxImageBytes,
		badPrefixBytes: badPrefix,
		log:            log,
	}
}

// Serve runs the worker's request/response loop to completion, closing
// the connection before returning. It never panics on a single bad
// request: every error path here ends the connection cleanly rather than
// propagating up, so one worker's failure cannot take down the server
// (spec section 7's "a worker crash must not take down the server").
func (w *Worker) Serve() {
	defer w.conn.Close()
	remote := w.conn.RemoteAddr().String()

	for {
		err := wire.ReadPrefix(w.conn)
		if errors.Is(err, io.EOF) {
			return
		}
		if errors.Is(err, wire.ErrBadPrefix) {
			w.sendBadPrefixFile(remote)
			return
		}
		if err != nil {
			w.sendErrorAndClose(err, remote)
			return
		}

		req, err := wire.DecodeRequest(w.conn, w.maxImageBytes)
		if err != nil {
			w.sendErrorAndClose(err, remote)
			return
		}

		if !w.handleRequest(req, remote) {
			return
		}
	}
}

// handleRequest dispatches one decoded request and reports whether the
// worker should keep looping (true) or the connection is now closed
// (false).
func (w *Worker) handleRequest(req *wire.Request, remote string) bool {
	var (
		result vision.Result
		err    error
	)
	switch req.Op {
	case wire.OpDetect:
		result, err = w.detector.Detect(req.Primary)
	case wire.OpReplace:
		result, err = w.detector.Replace(req.Primary, req.Secondary)
	}
	if err != nil {
		w.sendErrorAndClose(err, remote)
		return false
	}

	if werr := wire.WriteImage(w.conn, result.Image); werr != nil {
		w.log.Warn("write_image_failed", "remote", remote, "error", werr)
		return false
	}

	switch req.Op {
	case wire.OpDetect:
		w.stats.DetectSucceeded()
		metrics.IncDetect()
	case wire.OpReplace:
		w.stats.ReplaceSucceeded()
		metrics.IncReplace()
	}
	return true
}

// sendErrorAndClose writes the operation-3 error frame matching err's
// sentinel (spec section 7's table) and lets Serve's deferred Close run.
// A payload-less error (e.g. ErrPeerClosed, meaning there is no peer left
// to write to) is simply swallowed.
func (w *Worker) sendErrorAndClose(err error, remote string) {
	payload, ok := wire.ErrorPayload(err)
	if !ok {
		w.log.Debug("session_closed_no_payload", "remote", remote, "error", err)
		return
	}
	if errors.Is(err, wire.ErrInvalidImage) || errors.Is(err, wire.ErrNoFacesDetected) {
		metrics.IncDetectorError()
	} else {
		metrics.IncCodecError()
	}
	if werr := wire.WriteError(w.conn, payload); werr != nil {
		w.log.Warn("write_error_failed", "remote", remote, "error", werr)
	}
}

// sendBadPrefixFile implements spec section 4.1's distinct out-of-band
// policy: no error frame, the canned file's bytes verbatim, then a
// malformedRequests increment.
func (w *Worker) sendBadPrefixFile(remote string) {
	payload, err := w.badPrefixBytes()
	if err != nil {
		w.log.Error("bad_prefix_file_unavailable", "remote", remote, "error", err)
		w.stats.Malformed()
		metrics.IncMalformed()
		metrics.IncError(metrics.ErrBadPrefixIO)
		return
	}
	if _, err := w.conn.Write(payload); err != nil {
		w.log.Warn("bad_prefix_write_failed", "remote", remote, "error", err)
	}
	w.stats.Malformed()
	metrics.IncMalformed()
}
