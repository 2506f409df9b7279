package rpc

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/hyphanet/wot/internal/engine"
	"github.com/hyphanet/wot/internal/graph"
	"github.com/hyphanet/wot/internal/puzzle"
	"github.com/hyphanet/wot/internal/storage"
	"github.com/hyphanet/wot/internal/woterrors"
)

// Server dispatches Requests to the engine and storage layer, the
// synchronous facade spec §6 describes, and serves them over a
// newline-delimited JSON connection (spec §6 transport).
type Server struct {
	store   storage.Store
	engine  *engine.Engine
	puzzles *puzzle.Server
	client  *puzzle.Client

	mu             sync.RWMutex
	socketPath     string
	tcpAddr        string
	tlsConfig      *tls.Config
	listener       net.Listener
	tcpListener    net.Listener
	requestTimeout time.Duration
}

// NewServer creates an RPC Server. client may be nil if this process has
// no introduction-client worker configured.
func NewServer(store storage.Store, eng *engine.Engine, puzzleServer *puzzle.Server, client *puzzle.Client) *Server {
	return &Server{store: store, engine: eng, puzzles: puzzleServer, client: client, requestTimeout: 30 * time.Second}
}

// SetSocketPath sets the Unix socket path Start listens on.
func (s *Server) SetSocketPath(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.socketPath = path
}

// SetTCPAddr sets an additional TCP address Start listens on. Empty means
// Unix-socket-only, matching the teacher's "local by default" posture.
func (s *Server) SetTCPAddr(addr string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tcpAddr = addr
}

// Start listens on the configured Unix socket (and TCP address, if set)
// and serves connections until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.mu.RLock()
	socketPath, tcpAddr, tlsConfig := s.socketPath, s.tcpAddr, s.tlsConfig
	s.mu.RUnlock()

	if socketPath == "" {
		return fmt.Errorf("rpc: no socket path configured")
	}
	ln, err := listenRPC(socketPath)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", socketPath, err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	var tcpLn net.Listener
	if tcpAddr != "" {
		tcpLn, err = listenTCP(tcpAddr)
		if err != nil {
			ln.Close()
			return fmt.Errorf("listen on %s: %w", tcpAddr, err)
		}
		if tlsConfig != nil {
			tcpLn = tls.NewListener(tcpLn, tlsConfig)
		}
		s.mu.Lock()
		s.tcpListener = tcpLn
		s.mu.Unlock()
	}

	go func() {
		<-ctx.Done()
		ln.Close()
		if tcpLn != nil {
			tcpLn.Close()
		}
	}()

	go s.acceptLoop(ctx, ln)
	if tcpLn != nil {
		go s.acceptLoop(ctx, tcpLn)
	}
	return nil
}

func (s *Server) acceptLoop(ctx context.Context, ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			continue
		}
		go s.handleConnection(ctx, conn)
	}
}

func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	reader := bufio.NewReader(conn)
	writer := bufio.NewWriter(conn)

	for {
		s.mu.RLock()
		timeout := s.requestTimeout
		s.mu.RUnlock()
		if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
			return
		}

		line, err := reader.ReadBytes('\n')
		if err != nil {
			return
		}

		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			s.writeResponse(writer, &Response{Error: &ErrorBody{Code: "InvalidParameter", Message: err.Error()}})
			continue
		}

		if err := conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
			return
		}
		s.writeResponse(writer, s.Handle(ctx, &req))
	}
}

func (s *Server) writeResponse(writer *bufio.Writer, resp *Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		return
	}
	writer.Write(data)
	writer.WriteByte('\n')
	writer.Flush()
}

// Handle dispatches one Request and returns its Response. It never
// returns a Go error itself; failures are carried inside Response.Error so
// the transport layer has one uniform reply shape.
func (s *Server) Handle(ctx context.Context, req *Request) *Response {
	result, err := s.dispatch(ctx, req)
	if err != nil {
		return &Response{Error: toErrorBody(err)}
	}
	return &Response{Result: result}
}

func (s *Server) dispatch(ctx context.Context, req *Request) (any, error) {
	raw, err := json.Marshal(req.Params)
	if err != nil {
		return nil, fmt.Errorf("marshal params: %w", woterrors.ErrInvalidParameter)
	}

	switch req.Op {
	case OpCreateOwnIdentity:
		var p CreateOwnIdentityParams
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("decode params: %w", woterrors.ErrInvalidParameter)
		}
		own := &graph.OwnIdentity{
			Identity: graph.Identity{
				ID:             graph.IdentityIDFromAddress(p.RequestAddress),
				RequestAddress: p.RequestAddress,
				Nickname:       p.Nickname,
				Contexts:       p.Contexts,
				Properties:     p.Properties,
			},
			InsertAddress: p.InsertAddress,
		}
		if err := s.engine.CreateOwnIdentity(ctx, own); err != nil {
			return nil, err
		}
		return own, nil

	case OpRestoreOwnIdentity:
		var p RestoreOwnIdentityParams
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("decode params: %w", woterrors.ErrInvalidParameter)
		}
		return nil, s.engine.RestoreOwnIdentity(ctx, p.IdentityID, p.InsertAddress)

	case OpDeleteIdentity:
		var p DeleteIdentityParams
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("decode params: %w", woterrors.ErrInvalidParameter)
		}
		return nil, s.engine.DeleteIdentity(ctx, p.IdentityID)

	case OpSetTrust:
		var p SetTrustParams
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("decode params: %w", woterrors.ErrInvalidParameter)
		}
		return nil, s.engine.SetTrust(ctx, p.Truster, p.Trustee, p.Value, p.Comment)

	case OpRemoveTrust:
		var p RemoveTrustParams
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("decode params: %w", woterrors.ErrInvalidParameter)
		}
		return nil, s.engine.RemoveTrust(ctx, p.Truster, p.Trustee)

	case OpAddIdentity:
		var p AddIdentityParams
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("decode params: %w", woterrors.ErrInvalidParameter)
		}
		id := &graph.Identity{ID: graph.IdentityIDFromAddress(p.RequestAddress), RequestAddress: p.RequestAddress}
		if err := s.engine.AddIdentity(ctx, id); err != nil {
			return nil, err
		}
		return id, nil

	case OpGetIdentitiesByScore:
		var p GetIdentitiesByScoreParams
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("decode params: %w", woterrors.ErrInvalidParameter)
		}
		return s.getIdentitiesByScore(ctx, p)

	case OpGetIdentity:
		var p GetIdentityParams
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("decode params: %w", woterrors.ErrInvalidParameter)
		}
		id, err := s.store.GetIdentity(ctx, p.IdentityID)
		if err != nil {
			return nil, mapStorageNotFound(err, woterrors.ErrUnknownIdentity)
		}
		return id, nil

	case OpGetTrust:
		var p GetTrustParams
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("decode params: %w", woterrors.ErrInvalidParameter)
		}
		t, err := s.store.GetTrust(ctx, p.Truster, p.Trustee)
		if err != nil {
			return nil, mapStorageNotFound(err, woterrors.ErrNotTrusted)
		}
		return t, nil

	case OpGetPuzzles:
		var p GetPuzzlesParams
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("decode params: %w", woterrors.ErrInvalidParameter)
		}
		if s.client == nil {
			return nil, fmt.Errorf("get_puzzles: no introduction-client configured: %w", woterrors.ErrInvalidParameter)
		}
		fetched, err := s.client.FetchPool(ctx, p.Viewer)
		if err != nil {
			return nil, err
		}
		if p.Count > 0 && len(fetched) > p.Count {
			fetched = fetched[:p.Count]
		}
		return fetched, nil

	case OpSolvePuzzle:
		var p SolvePuzzleParams
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("decode params: %w", woterrors.ErrInvalidParameter)
		}
		if s.puzzles == nil {
			return nil, fmt.Errorf("solve_puzzle: no introduction-server configured: %w", woterrors.ErrInvalidParameter)
		}
		own, err := s.store.GetOwnIdentity(ctx, p.Viewer)
		if err != nil {
			return nil, mapStorageNotFound(err, woterrors.ErrUnknownIdentity)
		}
		return nil, s.puzzles.ImportSolution(ctx, p.PuzzleID, own.RequestAddress, p.Solution, 50, "introduction")

	default:
		return nil, fmt.Errorf("unknown operation %q: %w", req.Op, woterrors.ErrInvalidParameter)
	}
}

func (s *Server) getIdentitiesByScore(ctx context.Context, p GetIdentitiesByScoreParams) ([]ScoredIdentity, error) {
	if _, err := s.store.GetOwnIdentity(ctx, p.Viewer); err != nil {
		return nil, mapStorageNotFound(err, woterrors.ErrUnknownIdentity)
	}
	scores, err := s.store.ListScoresForViewer(ctx, p.Viewer)
	if err != nil {
		return nil, err
	}

	out := make([]ScoredIdentity, 0, len(scores))
	for _, sc := range scores {
		if !matchesSign(sc.Value, p.Sign) {
			continue
		}
		id, err := s.store.GetIdentity(ctx, sc.Target)
		if err != nil {
			continue
		}
		if p.ContextFilter != "" && !hasContext(id.Contexts, p.ContextFilter) {
			continue
		}
		out = append(out, ScoredIdentity{Identity: id, Score: sc})
	}
	return out, nil
}

func matchesSign(value int, sign Sign) bool {
	switch sign {
	case SignPositive:
		return value > 0
	case SignNegative:
		return value < 0
	case SignZero:
		return value == 0
	default:
		return true
	}
}

func hasContext(contexts []string, want string) bool {
	for _, c := range contexts {
		if c == want {
			return true
		}
	}
	return false
}

func mapStorageNotFound(err error, domainErr error) error {
	if errors.Is(err, storage.ErrNotFound) {
		return domainErr
	}
	return err
}

func toErrorBody(err error) *ErrorBody {
	code := errorCode(err)
	return &ErrorBody{Code: code, Message: err.Error()}
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, woterrors.ErrUnknownIdentity):
		return "UnknownIdentity"
	case errors.Is(err, woterrors.ErrDuplicateIdentity):
		return "DuplicateIdentity"
	case errors.Is(err, woterrors.ErrNotTrusted):
		return "NotTrusted"
	case errors.Is(err, woterrors.ErrNotInTrustTree):
		return "NotInTrustTree"
	case errors.Is(err, woterrors.ErrInvalidParameter):
		return "InvalidParameter"
	case errors.Is(err, woterrors.ErrDuplicateTrust):
		return "DuplicateTrust"
	case errors.Is(err, woterrors.ErrDuplicateScore):
		return "DuplicateScore"
	case errors.Is(err, woterrors.ErrUnknownPuzzle):
		return "UnknownPuzzle"
	case errors.Is(err, woterrors.ErrDuplicatePuzzle):
		return "DuplicatePuzzle"
	case errors.Is(err, woterrors.ErrInvalidSolution):
		return "InvalidSolution"
	default:
		return "Internal"
	}
}
