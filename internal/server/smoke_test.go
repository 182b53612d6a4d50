package server

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kstaniek/facedetect-server/internal/metrics"
	"github.com/kstaniek/facedetect-server/internal/stats"
	"github.com/kstaniek/facedetect-server/internal/vision"
	"github.com/kstaniek/facedetect-server/internal/wire"
)

// fakeDetector is a minimal vision.Detector double driven entirely by the
// fields below, letting each test script the detector's behavior without
// touching gocv.
type fakeDetector struct {
	result vision.Result
	err    error
}

func (f *fakeDetector) Detect(primary []byte) (vision.Result, error) {
	return f.result, f.err
}

func (f *fakeDetector) Replace(primary, secondary []byte) (vision.Result, error) {
	return f.result, f.err
}

func dialReady(t *testing.T, ctx context.Context, srv *Server) net.Conn {
	t.Helper()
	select {
	case <-srv.Ready():
	case <-time.After(2 * time.Second):
		t.Fatalf("server did not signal readiness")
	}
	d := net.Dialer{Timeout: 1 * time.Second}
	conn, err := d.DialContext(ctx, "tcp", srv.Addr())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	_ = conn.SetDeadline(time.Now().Add(2 * time.Second))
	return conn
}

// TestSmokeDetectRoundTrip starts the server on an ephemeral port, sends one
// detect request, and checks the annotated image comes back as an
// OpImage frame.
func TestSmokeDetectRoundTrip(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	det := &fakeDetector{result: vision.Result{Image: []byte("annotated-jpeg"), Faces: []vision.Face{{}}}}
	srv := New(Config{Addr: ":0", MaxImageBytes: 1 << 20}, det, stats.New())
	go func() {
		if err := srv.Serve(ctx, nil); err != nil {
			t.Logf("Serve returned: %v", err)
		}
	}()

	conn := dialReady(t, ctx, srv)
	defer conn.Close()

	req := &wire.Request{Op: wire.OpDetect, Primary: []byte("raw-jpeg-bytes")}
	if _, err := conn.Write(wire.EncodeRequest(req)); err != nil {
		t.Fatalf("write request: %v", err)
	}
	resp, err := wire.ReadResponse(conn)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	if resp.Op != wire.OpImage {
		t.Fatalf("expected OpImage, got op %d", resp.Op)
	}
	if string(resp.Payload) != "annotated-jpeg" {
		t.Fatalf("unexpected payload %q", resp.Payload)
	}
}

// TestSmokeNoFacesDetectedClosesWithError sends a detect request the
// detector rejects with ErrNoFacesDetected and expects the matching
// operation-3 error frame, then connection close.
func TestSmokeNoFacesDetectedClosesWithError(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	det := &fakeDetector{err: wire.ErrNoFacesDetected}
	srv := New(Config{Addr: ":0", MaxImageBytes: 1 << 20}, det, stats.New())
	go srv.Serve(ctx, nil)

	conn := dialReady(t, ctx, srv)
	defer conn.Close()

	req := &wire.Request{Op: wire.OpDetect, Primary: []byte("raw-jpeg-bytes")}
	if _, err := conn.Write(wire.EncodeRequest(req)); err != nil {
		t.Fatalf("write request: %v", err)
	}
	resp, err := wire.ReadResponse(conn)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	if resp.Op != wire.OpError {
		t.Fatalf("expected OpError, got op %d", resp.Op)
	}
	if string(resp.Payload) != "no faces detected in image" {
		t.Fatalf("unexpected payload %q", resp.Payload)
	}
	buf := make([]byte, 1)
	if _, err := conn.Read(buf); err == nil {
		t.Fatalf("expected connection closed after error frame")
	}
}

// TestSmokeBadPrefixServesFile checks a bad magic prefix gets the canned
// file's bytes verbatim rather than an error frame, and bumps
// MalformedRequests.
func TestSmokeBadPrefixServesFile(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	dir := t.TempDir()
	path := filepath.Join(dir, "bad-prefix.txt")
	contents := []byte("go away\n")
	if err := os.WriteFile(path, contents, 0o644); err != nil {
		t.Fatalf("write bad prefix fixture: %v", err)
	}

	st := stats.New()
	det := &fakeDetector{}
	srv := New(Config{Addr: ":0", BadPrefixFile: path}, det, st)
	go srv.Serve(ctx, nil)

	conn := dialReady(t, ctx, srv)
	defer conn.Close()

	if _, err := conn.Write([]byte{0xDE, 0xAD, 0xBE, 0xEF}); err != nil {
		t.Fatalf("write bad prefix: %v", err)
	}
	got := make([]byte, len(contents))
	n := 0
	deadline := time.Now().Add(1 * time.Second)
	for n < len(contents) && time.Now().Before(deadline) {
		m, err := conn.Read(got[n:])
		n += m
		if err != nil {
			break
		}
	}
	if string(got[:n]) != string(contents) {
		t.Fatalf("expected bad-prefix file bytes %q, got %q", contents, got[:n])
	}

	deadline = time.Now().Add(200 * time.Millisecond)
	for time.Now().Before(deadline) {
		if st.Snap().MalformedRequests > 0 {
			break
		}
		time.Sleep(2 * time.Millisecond)
	}
	if st.Snap().MalformedRequests == 0 {
		t.Fatalf("expected MalformedRequests to be incremented")
	}
}

// TestSmokeAdmissionBackpressure checks that a connection limit of one
// blocks a second accept until the first connection finishes, per the
// backpressure policy (a full admission channel blocks accept rather than
// rejecting the new connection outright).
func TestSmokeAdmissionBackpressure(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	det := &fakeDetector{result: vision.Result{Image: []byte("ok")}}
	srv := New(Config{Addr: ":0", ConnectionLimit: 1, MaxImageBytes: 1 << 20}, det, stats.New())
	go srv.Serve(ctx, nil)

	c1 := dialReady(t, ctx, srv)
	defer c1.Close()

	d := net.Dialer{Timeout: 1 * time.Second}
	c2, err := d.DialContext(ctx, "tcp", srv.Addr())
	if err != nil {
		t.Fatalf("dial second: %v", err)
	}
	defer c2.Close()

	req := &wire.Request{Op: wire.OpDetect, Primary: []byte("raw-jpeg-bytes")}
	if _, err := c2.Write(wire.EncodeRequest(req)); err != nil {
		t.Fatalf("write to second conn: %v", err)
	}
	_ = c2.SetReadDeadline(time.Now().Add(80 * time.Millisecond))
	buf := make([]byte, 1)
	if _, err := c2.Read(buf); err == nil {
		t.Fatalf("expected second connection to receive nothing while admission is saturated")
	}

	if _, err := c1.Write(wire.EncodeRequest(req)); err != nil {
		t.Fatalf("write to first conn: %v", err)
	}
	if _, err := wire.ReadResponse(c1); err != nil {
		t.Fatalf("read first response: %v", err)
	}
	c1.Close()

	_ = c2.SetReadDeadline(time.Now().Add(1 * time.Second))
	resp, err := wire.ReadResponse(c2)
	if err != nil {
		t.Fatalf("expected second connection admitted once first completed: %v", err)
	}
	if resp.Op != wire.OpImage {
		t.Fatalf("expected OpImage for second connection, got op %d", resp.Op)
	}
}

// TestSmokeGracefulShutdown checks Shutdown closes the listener and lets an
// in-flight worker finish before returning. The worker exits only once its
// peer closes, so the client closes shortly after Shutdown starts waiting.
func TestSmokeGracefulShutdown(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	det := &fakeDetector{result: vision.Result{Image: []byte("ok")}}
	srv := New(Config{Addr: ":0", MaxImageBytes: 1 << 20}, det, stats.New())
	go srv.Serve(ctx, nil)

	conn := dialReady(t, ctx, srv)
	defer conn.Close()
	go func() {
		time.Sleep(50 * time.Millisecond)
		_ = conn.Close()
	}()

	sdCtx, sdCancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer sdCancel()
	if err := srv.Shutdown(sdCtx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	d := net.Dialer{Timeout: 200 * time.Millisecond}
	if _, err := d.DialContext(ctx, "tcp", srv.Addr()); err == nil {
		t.Fatalf("expected listener closed after shutdown")
	}
}

// TestSmokeMetricsSnapshot checks that a completed detect request moves the
// local metrics mirror.
func TestSmokeMetricsSnapshot(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	det := &fakeDetector{result: vision.Result{Image: []byte("ok")}}
	srv := New(Config{Addr: ":0", MaxImageBytes: 1 << 20}, det, stats.New())
	go srv.Serve(ctx, nil)

	conn := dialReady(t, ctx, srv)
	defer conn.Close()

	pre := metrics.Snap()
	req := &wire.Request{Op: wire.OpDetect, Primary: []byte("raw-jpeg-bytes")}
	if _, err := conn.Write(wire.EncodeRequest(req)); err != nil {
		t.Fatalf("write request: %v", err)
	}
	if _, err := wire.ReadResponse(conn); err != nil {
		t.Fatalf("read response: %v", err)
	}

	deadline := time.Now().Add(200 * time.Millisecond)
	for time.Now().Before(deadline) {
		if metrics.Snap().DetectRequests > pre.DetectRequests {
			break
		}
		time.Sleep(2 * time.Millisecond)
	}
	if post := metrics.Snap(); post.DetectRequests <= pre.DetectRequests {
		t.Fatalf("expected DetectRequests to increase, pre=%d post=%d", pre.DetectRequests, post.DetectRequests)
	}
}
