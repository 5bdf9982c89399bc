package net

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"fenrir/internal/common"
	"fenrir/internal/engine"
	"fenrir/internal/utils"

	"github.com/rs/zerolog/log"
	tomb "gopkg.in/tomb.v2"
)

const (
	maxRecvSize        = 4 * 1024
	defaultNWorkers    = 10
	defaultConnTimeout = 5 * time.Second
)

// clientSession tracks one connected TCP session keyed by remote address.
// Keying by LocalAddr would collide every connection into one session,
// since that's the server's own bound address and identical for all of
// them; RemoteAddr is unique per client.
type clientSession struct {
	conn net.Conn
}

type clientMessage struct {
	clientAddress string
	message       Message
}

// Server accepts TCP connections carrying the binary wire protocol and
// routes parsed orders into the matching engine, reporting fills and
// errors back on the same connection. A worker pool reads connections;
// a single session handler goroutine serializes engine calls per
// incoming message.
type Server struct {
	addr   string
	engine *engine.Engine
	pool   *utils.WorkerPool

	cancel context.CancelFunc

	sessionsMu sync.Mutex
	sessions   map[string]clientSession

	inbox chan clientMessage
}

// New creates a Server listening on addr, dispatching admitted orders to
// eng.
func New(addr string, eng *engine.Engine, workers int) *Server {
	if workers <= 0 {
		workers = defaultNWorkers
	}
	return &Server{
		addr:     addr,
		engine:   eng,
		pool:     utils.NewWorkerPool(workers),
		sessions: make(map[string]clientSession),
		inbox:    make(chan clientMessage, 64),
	}
}

// Shutdown cancels the server's run loop.
func (s *Server) Shutdown() {
	log.Info().Msg("net server shutting down")
	if s.cancel != nil {
		s.cancel()
	}
}

// Run listens on addr until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	ctx, s.cancel = context.WithCancel(ctx)
	defer s.Shutdown()

	t, ctx := tomb.WithContext(ctx)

	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.addr, err)
	}
	defer listener.Close()

	s.pool.Setup(t, s.handleConnection)
	t.Go(func() error { return s.sessionHandler(t) })

	log.Info().Str("addr", s.addr).Msg("net server listening")

	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return t.Wait()
			default:
				log.Error().Err(err).Msg("error accepting connection")
				continue
			}
		}

		log.Info().Str("remote", conn.RemoteAddr().String()).Msg("client connected")
		s.addSession(conn)
		s.pool.Submit(conn)
	}
}

func (s *Server) sessionHandler(t *tomb.Tomb) error {
	for {
		select {
		case <-t.Dying():
			return nil
		case msg := <-s.inbox:
			if err := s.handleMessage(msg); err != nil {
				log.Error().Err(err).Str("client", msg.clientAddress).Msg("error handling message")
			}
		}
	}
}

func (s *Server) handleMessage(msg clientMessage) error {
	switch m := msg.message.(type) {
	case NewOrderMessage:
		order := m.Order()
		result, err := s.engine.Submit(context.Background(), order)
		if err != nil {
			s.reply(msg.clientAddress, errorReport(order.OrderID, err))
			return err
		}
		// one report per fill at the fill's (maker) price, or a single
		// zero-quantity report when the order produced no fill (it rested, or
		// a market order found no liquidity).
		for _, f := range result.Fills {
			s.reply(msg.clientAddress, executionReport(order.OrderID, order.Side, f.Price, f.Qty))
		}
		if len(result.Fills) == 0 {
			s.reply(msg.clientAddress, executionReport(order.OrderID, order.Side, order.Price, 0))
		}
	case CancelOrderMessage:
		err := s.engine.Cancel(context.Background(), m.Symbol, m.OrderID)
		if err != nil {
			s.reply(msg.clientAddress, errorReport(m.OrderID, err))
			return err
		}
		s.reply(msg.clientAddress, ackReport(m.OrderID))
	default:
		return ErrInvalidMessageType
	}
	return nil
}

func (s *Server) reply(clientAddress string, payload []byte) {
	s.sessionsMu.Lock()
	sess, ok := s.sessions[clientAddress]
	s.sessionsMu.Unlock()
	if !ok {
		return
	}
	if _, err := sess.conn.Write(payload); err != nil {
		log.Error().Err(err).Str("client", clientAddress).Msg("failed to write report")
		s.removeSession(clientAddress)
	}
}

// handleConnection reads one message off conn, forwards it to the session
// handler, then resubmits conn to the pool for its next message. A
// connection that fails to read or parse is torn down.
func (s *Server) handleConnection(t *tomb.Tomb, task any) error {
	conn, ok := task.(net.Conn)
	if !ok {
		return common.ErrInvalidInput
	}

	if err := conn.SetDeadline(time.Now().Add(defaultConnTimeout)); err != nil {
		s.closeConn(conn)
		return nil
	}

	buf := make([]byte, maxRecvSize)
	select {
	case <-t.Dying():
		return nil
	default:
	}

	n, err := conn.Read(buf)
	if err != nil {
		s.removeSession(conn.RemoteAddr().String())
		s.closeConn(conn)
		return nil
	}

	message, err := parseMessage(buf[:n])
	if err != nil {
		log.Error().Err(err).Str("remote", conn.RemoteAddr().String()).Msg("failed to parse message")
		s.removeSession(conn.RemoteAddr().String())
		s.closeConn(conn)
		return nil
	}

	s.inbox <- clientMessage{clientAddress: conn.RemoteAddr().String(), message: message}
	s.pool.Submit(conn)
	return nil
}

func (s *Server) addSession(conn net.Conn) {
	s.sessionsMu.Lock()
	defer s.sessionsMu.Unlock()
	s.sessions[conn.RemoteAddr().String()] = clientSession{conn: conn}
}

func (s *Server) removeSession(addr string) {
	s.sessionsMu.Lock()
	defer s.sessionsMu.Unlock()
	delete(s.sessions, addr)
}

func (s *Server) closeConn(conn net.Conn) {
	if err := conn.Close(); err != nil {
		log.Error().Err(err).Str("remote", conn.RemoteAddr().String()).Msg("error closing connection")
	}
}
