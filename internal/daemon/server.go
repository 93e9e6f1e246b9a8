package daemon

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"github.com/omnitak/takcore/internal/bus"
	"github.com/omnitak/takcore/internal/cot"
	"github.com/omnitak/takcore/internal/engine"
	"github.com/omnitak/takcore/internal/paths"
	"github.com/omnitak/takcore/internal/queue"
	"github.com/omnitak/takcore/internal/status"
	"go.uber.org/zap"
)

// maxLine bounds one protocol line. Inline attachments ride inside the
// XML, so lines can be large.
const maxLine = 8 << 20

var errNoTransport = errors.New("no transport attached")

// Server serves the control protocol on the profile's Unix socket and
// bridges outbound frames to the attached transport connection.
type Server struct {
	socketPath string
	listener   net.Listener
	logger     *zap.Logger

	engine        *engine.Engine
	queue         *queue.Queue
	bus           *bus.Bus
	retentionDays int

	mu        sync.Mutex
	transport *transport
	conns     map[net.Conn]struct{}

	stop chan struct{}
	wg   sync.WaitGroup
}

// NewServer binds the control socket. A stale socket file from a
// crashed daemon is removed first; the lock file is what guards against
// a live one.
func NewServer(p Params, logger *zap.Logger, eng *engine.Engine, q *queue.Queue, b *bus.Bus, retentionDays int) (*Server, error) {
	socketPath := p.SocketPath
	if socketPath == "" {
		socketPath = paths.SocketPath(p.Profile)
	}

	if _, err := os.Stat(socketPath); err == nil {
		_ = os.Remove(socketPath)
	}

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("listen unix socket: %w", err)
	}
	if err := os.Chmod(socketPath, 0600); err != nil {
		_ = listener.Close()
		return nil, fmt.Errorf("chmod socket: %w", err)
	}

	return &Server{
		socketPath:    socketPath,
		listener:      listener,
		logger:        logger,
		engine:        eng,
		queue:         q,
		bus:           b,
		retentionDays: retentionDays,
		conns:         make(map[net.Conn]struct{}),
		stop:          make(chan struct{}),
	}, nil
}

// Start accepts connections until Stop. Blocks.
func (s *Server) Start() error {
	s.logger.Info("control server starting", zap.String("socket", s.socketPath))
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.stop:
				return nil
			default:
				return err
			}
		}
		s.mu.Lock()
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

// Stop closes the listener and every open connection, then removes the
// socket file.
func (s *Server) Stop(_ context.Context) {
	s.logger.Info("control server stopping")
	close(s.stop)
	_ = s.listener.Close()

	s.mu.Lock()
	for conn := range s.conns {
		_ = conn.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
	_ = os.Remove(s.socketPath)
}

func (s *Server) handleConn(conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		_ = conn.Close()
	}()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 64*1024), maxLine)
	enc := json.NewEncoder(conn)

	for scanner.Scan() {
		var req Request
		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
			_ = enc.Encode(errResponse(fmt.Errorf("bad request: %w", err)))
			continue
		}

		if req.Op == OpAttach {
			s.runTransport(conn, scanner, enc)
			return
		}

		if err := enc.Encode(s.handle(req)); err != nil {
			return
		}
	}
}

func (s *Server) handle(req Request) Response {
	switch req.Op {
	case OpSend:
		var recip *cot.Recipient
		if req.RecipientUID != "" || req.RecipientCallsign != "" {
			recip = &cot.Recipient{UID: req.RecipientUID, Callsign: req.RecipientCallsign}
		}
		msg, err := s.engine.SendText(req.Text, recip, nil)
		if err != nil {
			return errResponse(err)
		}
		return Response{OK: true, Message: msg}

	case OpPosition:
		if _, err := s.engine.SendPosition(); err != nil {
			return errResponse(err)
		}
		return Response{OK: true}

	case OpIngest:
		msg, err := s.engine.HandleRaw([]byte(req.XML))
		if err != nil {
			return errResponse(err)
		}
		return Response{OK: true, Message: msg}

	case OpReport:
		if err := s.engine.ReportDelivery(req.UID, req.Delivered); err != nil {
			return errResponse(err)
		}
		return Response{OK: true}

	case OpStats:
		return Response{OK: true, Stats: &Stats{
			Statistics:     s.queue.Statistics(),
			WorkingSet:     s.queue.Len(),
			DecodeFailures: s.engine.DecodeFailures(),
		}}

	case OpQuery:
		f := queue.Filter{
			Direction: status.Direction(req.Direction),
			Status:    status.Status(req.Status),
			Type:      req.Type,
		}
		if req.SinceMillis > 0 {
			f.Since = time.UnixMilli(req.SinceMillis)
		}
		return Response{OK: true, Messages: s.queue.Query(f)}

	case OpRetry:
		tr := s.currentTransport()
		if tr == nil {
			return errResponse(errNoTransport)
		}
		attempted, succeeded, err := s.queue.RetryFailed(context.Background(), tr.send)
		if err != nil {
			return errResponse(err)
		}
		return Response{OK: true, Attempted: attempted, Succeeded: succeeded}

	case OpCleanup:
		removed, err := s.queue.Cleanup(s.retentionDays)
		if err != nil {
			return errResponse(err)
		}
		return Response{OK: true, Removed: removed}

	case OpFlush:
		if err := s.queue.Flush(); err != nil {
			return errResponse(err)
		}
		return Response{OK: true}

	case OpExport:
		if err := s.queue.Export(req.Path); err != nil {
			return errResponse(err)
		}
		return Response{OK: true}

	case OpImport:
		added, err := s.queue.Import(req.Path)
		if err != nil {
			return errResponse(err)
		}
		return Response{OK: true, Added: added}

	default:
		return errResponse(fmt.Errorf("unknown op %q", req.Op))
	}
}

// transport is the single attached wire connection. Frames and their
// acks are strictly paired, so the mutex serializes senders.
type transport struct {
	mu      sync.Mutex
	enc     *json.Encoder
	scanner *bufio.Scanner
}

// send writes one frame and waits for its ack. Satisfies queue.SendFunc.
func (t *transport) send(ctx context.Context, xml []byte) error {
	return t.sendFrame(ctx, "", xml)
}

func (t *transport) sendFrame(ctx context.Context, uid string, xml []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.enc.Encode(Frame{UID: uid, XML: string(xml)}); err != nil {
		return err
	}
	if !t.scanner.Scan() {
		if err := t.scanner.Err(); err != nil {
			return err
		}
		return io.EOF
	}
	var ack Ack
	if err := json.Unmarshal(t.scanner.Bytes(), &ack); err != nil {
		return err
	}
	if !ack.OK {
		return fmt.Errorf("transport rejected frame: %s", ack.Error)
	}
	return nil
}

func (s *Server) currentTransport() *transport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transport
}

// runTransport owns conn for the rest of its life: first drain the
// offline backlog through it, then bridge live outbound frames until
// the peer hangs up.
func (s *Server) runTransport(conn net.Conn, scanner *bufio.Scanner, enc *json.Encoder) {
	tr := &transport{enc: enc, scanner: scanner}

	s.mu.Lock()
	if s.transport != nil {
		s.mu.Unlock()
		_ = enc.Encode(errResponse(errors.New("transport already attached")))
		return
	}
	s.transport = tr
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.transport = nil
		s.mu.Unlock()
		s.logger.Info("transport detached")
	}()

	if err := enc.Encode(Response{OK: true}); err != nil {
		return
	}
	s.logger.Info("transport attached")

	attempted, succeeded, err := s.queue.ProcessOfflineQueue(context.Background(), tr.send)
	if err != nil {
		s.logger.Warn("offline queue drain aborted", zap.Error(err))
		return
	}
	if attempted > 0 {
		s.logger.Info("offline queue drained",
			zap.Int("attempted", attempted), zap.Int("succeeded", succeeded))
	}

	frames, cancel := s.bus.Subscribe(bus.KindTransportSend, 64)
	defer cancel()

	for {
		select {
		case <-s.stop:
			return
		case evt := <-frames:
			frame, ok := evt.Payload.(bus.OutboundFrame)
			if !ok {
				continue
			}
			err := tr.sendFrame(context.Background(), frame.UID, frame.XML)
			if repErr := s.engine.ReportDelivery(frame.UID, err == nil); repErr != nil {
				s.logger.Warn("delivery report failed", zap.String("uid", frame.UID), zap.Error(repErr))
			}
			if err != nil {
				s.logger.Warn("transport send failed", zap.String("uid", frame.UID), zap.Error(err))
				if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
					return
				}
			}
		}
	}
}
