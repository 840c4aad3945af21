package rpc

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Options configures a Server.
type Options struct {
	// Workers bounds the number of requests handled concurrently.
	Workers int
	// MaxRequestBytes bounds a single buffered request.
	MaxRequestBytes int
	// Single stops reading after the first request.
	Single bool
}

// Server reads framed requests and dispatches them onto a bounded pool of
// workers. The reader never runs a handler itself.
type Server struct {
	handlers Handlers
	opts     Options
	logger   *slog.Logger

	mu  sync.Mutex // serializes response writes
	enc *json.Encoder
}

// NewServer creates a server for handlers.
func NewServer(handlers Handlers, opts Options, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Workers < 1 {
		opts.Workers = 4
	}
	if opts.MaxRequestBytes < 1 {
		opts.MaxRequestBytes = 16 << 20
	}
	return &Server{handlers: handlers, opts: opts, logger: logger}
}

// Serve handles requests from r until EOF, writing one response per line to
// w. It waits for in-flight requests before returning.
func (s *Server) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	s.enc = json.NewEncoder(w)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Workers)

	reader := bufio.NewReader(r)
	var buf []byte
	for {
		line, readErr := reader.ReadBytes('\n')
		buf = append(buf, line...)

		switch state := frame(buf); {
		case state == frameEmpty:
			buf = nil
		case state == frameComplete:
			msg := buf
			buf = nil
			g.Go(func() error {
				s.handle(gctx, msg)
				return nil
			})
			if s.opts.Single {
				return g.Wait()
			}
		case state == frameInvalid:
			s.protocolError(ParseError, fmt.Sprintf("invalid JSON: %s", bytes.TrimSpace(buf)))
			buf = nil
		case len(buf) > s.opts.MaxRequestBytes:
			s.protocolError(ParseError, fmt.Sprintf("request exceeds %d bytes", s.opts.MaxRequestBytes))
			buf = nil
		}

		if readErr != nil {
			if len(bytes.TrimSpace(buf)) > 0 {
				s.protocolError(ParseError, "unexpected end of input")
			}
			if waitErr := g.Wait(); waitErr != nil {
				return waitErr
			}
			if errors.Is(readErr, io.EOF) {
				return nil
			}
			return fmt.Errorf("failed to read request: %w", readErr)
		}
	}
}

type frameState int

const (
	frameEmpty frameState = iota
	frameIncomplete
	frameComplete
	frameInvalid
)

// frame reports whether buf holds exactly one complete JSON value.
func frame(buf []byte) frameState {
	trimmed := bytes.TrimSpace(buf)
	if len(trimmed) == 0 {
		return frameEmpty
	}
	if json.Valid(trimmed) {
		return frameComplete
	}
	var raw json.RawMessage
	err := json.Unmarshal(trimmed, &raw)
	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) && syntaxErr.Error() == "unexpected end of JSON input" {
		return frameIncomplete
	}
	return frameInvalid
}

func (s *Server) handle(ctx context.Context, msg []byte) {
	var req Request
	if err := json.Unmarshal(msg, &req); err != nil {
		s.protocolError(InvalidRequest, "request must be a JSON object")
		return
	}

	logger := s.logger.With("request_id", uuid.NewString(), "method", req.Method)
	notification := len(req.ID) == 0

	if req.JSONRPC != "2.0" || req.Method == "" {
		logger.Warn("rejected malformed request", "jsonrpc", req.JSONRPC)
		s.reply(notification, Response{ID: req.ID, Error: &Error{Code: InvalidRequest, Message: "invalid JSON-RPC 2.0 request"}})
		return
	}

	handler, ok := s.handlers[req.Method]
	if !ok {
		logger.Warn("unknown method")
		s.reply(notification, Response{ID: req.ID, Error: &Error{Code: MethodNotFound, Message: "method not found: " + req.Method}})
		return
	}

	start := time.Now()
	result, err := handler(ctx, req.Params)
	if err != nil {
		rpcErr := toError(err)
		logger.Error("request failed", "error", err, "code", rpcErr.Code, "duration", time.Since(start))
		s.reply(notification, Response{ID: req.ID, Error: rpcErr})
		return
	}
	logger.Info("request handled", "duration", time.Since(start))
	s.reply(notification, Response{ID: req.ID, Result: result})
}

func (s *Server) protocolError(code int, message string) {
	s.logger.Warn("protocol error", "code", code, "error", message)
	s.write(Response{ID: json.RawMessage("null"), Error: &Error{Code: code, Message: message}})
}

func (s *Server) reply(notification bool, resp Response) {
	if notification {
		return
	}
	s.write(resp)
}

func (s *Server) write(resp Response) {
	resp.JSONRPC = "2.0"
	if resp.Error == nil && resp.Result == nil {
		resp.Result = struct{}{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enc.Encode(resp); err != nil {
		s.logger.Error("failed to write response", "error", err)
	}
}
