// Package server runs the TCP acceptor loop: bind, print the bound port,
// admit connections through a bounded-concurrency semaphore, and spawn a
// session.Worker per connection. Generalized from the teacher's
// options-pattern Server (hub broadcaster over a duplex reader/writer
// pair) to a request/response image service with one sequential worker
// per connection.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kstaniek/facedetect-server/internal/logging"
	"github.com/kstaniek/facedetect-server/internal/metrics"
	"github.com/kstaniek/facedetect-server/internal/netio"
	"github.com/kstaniek/facedetect-server/internal/session"
	"github.com/kstaniek/facedetect-server/internal/stats"
	"github.com/kstaniek/facedetect-server/internal/vision"
)

// Server owns the TCP listener and the admission semaphore, and
// coordinates per-connection Worker lifecycles.
type Server struct {
	mu sync.Mutex

	addr            string
	connectionLimit uint32
	maxImageBytes   uint32
	badPrefixFile   string

	detector vision.Detector
	stats    *stats.Statistics
	logger   *slog.Logger

	admission chan struct{}
	listener  net.Listener

	readyOnce sync.Once
	readyCh   chan struct{}

	lastErrMu sync.Mutex
	lastErr   error
	errCh     chan error

	wg            sync.WaitGroup
	totalAccepted atomic.Uint64
}

// Option configures a Server at construction time.
type Option func(*Server)

// New builds a Server from cfg, a detector, and a statistics record,
// following the teacher's functional-options pattern.
func New(cfg Config, detector vision.Detector, st *stats.Statistics, opts ...Option) *Server {
	s := &Server{
		addr:            cfg.Addr,
		connectionLimit: cfg.ConnectionLimit,
		maxImageBytes:   cfg.MaxImageBytes,
		badPrefixFile:   cfg.BadPrefixFile,
		detector:        detector,
		stats:           st,
		logger:          logging.L(),
		readyCh:         make(chan struct{}),
		errCh:           make(chan error, 1),
	}
	if s.addr == "" {
		s.addr = ":0"
	}
	if s.connectionLimit > 0 {
		s.admission = make(chan struct{}, s.connectionLimit)
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// WithLogger overrides the package-default logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// Addr returns the bound address; only meaningful after Serve has
// started (or Ready has fired).
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Ready fires once the listener is bound.
func (s *Server) Ready() <-chan struct{} { return s.readyCh }

// Errors surfaces the most recent fatal listener error, if any.
func (s *Server) Errors() <-chan error { return s.errCh }

func (s *Server) setError(err error) {
	if err == nil {
		return
	}
	s.lastErrMu.Lock()
	s.lastErr = err
	s.lastErrMu.Unlock()
	select {
	case s.errCh <- err:
	default:
	}
}

// LastError returns the most recently recorded fatal error.
func (s *Server) LastError() error {
	s.lastErrMu.Lock()
	defer s.lastErrMu.Unlock()
	return s.lastErr
}

// Serve binds the listener, reports the bound port via portLine (spec
// section 6.1's single stderr line), then accepts connections until ctx
// is cancelled.
func (s *Server) Serve(ctx context.Context, portLine func(port int)) error {
	s.mu.Lock()
	addr := s.addr
	s.mu.Unlock()

	ln, err := netio.Listen(ctx, addr)
	if err != nil {
		wrap := fmt.Errorf("%w: %v", ErrListen, err)
		metrics.IncError(mapErrToMetric(wrap))
		s.setError(wrap)
		return wrap
	}
	s.mu.Lock()
	s.addr = ln.Addr().String()
	s.listener = ln
	s.mu.Unlock()

	if tcpAddr, ok := ln.Addr().(*net.TCPAddr); ok && portLine != nil {
		portLine(tcpAddr.Port)
	}

	s.readyOnce.Do(func() { close(s.readyCh) })
	s.logger.Info("tcp_listen", "addr", s.Addr())

	go func() { <-ctx.Done(); _ = ln.Close() }()

	for {
		if err := s.acceptOnce(ctx, ln); err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

// acceptOnce accepts one connection, admits it through the bounded
// semaphore (spec section 4.5: saturation blocks the accept loop rather
// than rejecting — the intended backpressure), and spawns its Worker.
func (s *Server) acceptOnce(ctx context.Context, ln net.Listener) error {
	conn, err := ln.Accept()
	if err != nil {
		select {
		case <-ctx.Done():
			return context.Canceled
		default:
		}
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			time.Sleep(50 * time.Millisecond)
			return nil
		}
		wrap := fmt.Errorf("%w: %v", ErrAccept, err)
		metrics.IncError(mapErrToMetric(wrap))
		s.setError(wrap)
		return wrap
	}

	if s.admission != nil {
		select {
		case s.admission <- struct{}{}:
		case <-ctx.Done():
			_ = conn.Close()
			return context.Canceled
		}
	}

	s.totalAccepted.Add(1)
	s.stats.ClientAdmitted()
	metrics.SetCurrentClients(s.currentClients())
	logger := s.logger.With("remote", conn.RemoteAddr().String())
	logger.Info("client_connected")

	w := session.New(conn, s.detector, s.stats, s.maxImageBytes, s.badPrefixFileReader(), logger)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			if s.admission != nil {
				<-s.admission
			}
			s.stats.ClientCompleted()
			metrics.IncCompleted()
			metrics.SetCurrentClients(s.currentClients())
			logger.Info("client_disconnected")
		}()
		w.Serve()
	}()
	return nil
}

func (s *Server) currentClients() int {
	return int(s.stats.Snap().CurrentClients)
}

func (s *Server) badPrefixFileReader() session.BadPrefixPayload {
	return func() ([]byte, error) {
		return readBadPrefixFile(s.badPrefixFile)
	}
}

// Shutdown closes the listener; workers finish their current
// request/response cycle and exit on their next peer close or read
// error. Shutdown waits up to ctx's deadline for that drain to
// complete — ambient process hygiene, not a protocol feature (see
// SPEC_FULL.md section 5).
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	ln := s.listener
	s.listener = nil
	s.mu.Unlock()
	if ln != nil {
		_ = ln.Close()
	}
	done := make(chan struct{})
	go func() { s.wg.Wait(); close(done) }()
	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: shutdown timeout: %v", ErrContext, ctx.Err())
	case <-done:
		s.logger.Info("shutdown_summary", "accepted", s.totalAccepted.Load())
		return nil
	}
}
