// Package pgmock is a scripted PostgreSQL backend for tests. It speaks
// just enough of the wire protocol for a real pgconn client to connect,
// run statements, and read scripted results, without a database anywhere.
package pgmock

import (
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"braces.dev/errtrace"
	"github.com/jackc/pgx/v5/pgproto3"
)

// Script maps exact SQL text to the result the server should return.
// Statements not in the script get an empty result with a tag derived from
// their first keyword.
type Script map[string]Result

type Result struct {
	Columns []Column
	// Rows are text-format values; nil means SQL NULL.
	Rows [][]*string
	// Tag is the command tag, e.g. "SELECT 2" or "INSERT 0 3".
	Tag string
	// Err, when set, is sent instead of any rows.
	Err *pgproto3.ErrorResponse
}

type Column struct {
	Name string
	OID  uint32
}

// Text is a convenience for building Result rows.
func Text(s string) *string {
	return &s
}

// ServerError builds a scripted error response with the given SQLSTATE.
func ServerError(code, message string) *pgproto3.ErrorResponse {
	return &pgproto3.ErrorResponse{
		Severity:            "ERROR",
		SeverityUnlocalized: "ERROR",
		Code:                code,
		Message:             message,
	}
}

type Server struct {
	listener net.Listener
	script   Script

	mu      sync.Mutex
	conns   []net.Conn
	queries []string
	closed  bool

	dials atomic.Int64
}

func New(script Script) (*Server, error) {
	listener, err := net.Listen("tcp", "127.0.0.1:")
	if err != nil {
		return nil, errtrace.Wrap(err)
	}
	s := &Server{
		listener: listener,
		script:   script,
	}
	go s.acceptLoop()
	return s, nil
}

func (s *Server) Host() string {
	host, _, _ := net.SplitHostPort(s.listener.Addr().String())
	return host
}

func (s *Server) Port() int {
	_, portStr, _ := net.SplitHostPort(s.listener.Addr().String())
	port, _ := strconv.Atoi(portStr)
	return port
}

// Queries returns every statement received so far, in arrival order.
func (s *Server) Queries() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.queries))
	copy(out, s.queries)
	return out
}

// Dials reports how many connections have been accepted.
func (s *Server) Dials() int64 {
	return s.dials.Load()
}

func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	conns := s.conns
	s.conns = nil
	s.mu.Unlock()

	err := s.listener.Close()
	for _, conn := range conns {
		_ = conn.Close()
	}
	return errtrace.Wrap(err)
}

func (s *Server) acceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		s.dials.Add(1)

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			_ = conn.Close()
			return
		}
		s.conns = append(s.conns, conn)
		s.mu.Unlock()

		go s.serve(conn)
	}
}

func (s *Server) serve(conn net.Conn) {
	defer conn.Close()

	backend := pgproto3.NewBackend(conn, conn)
	if err := s.handleStartup(backend, conn); err != nil {
		return
	}

	txStatus := byte('I')
	var pending string
	for {
		msg, err := backend.Receive()
		if err != nil {
			return
		}
		switch m := msg.(type) {
		case *pgproto3.Parse:
			pending = m.Query
		case *pgproto3.Bind, *pgproto3.Describe, *pgproto3.Execute:
			// Responses are deferred until Sync.
		case *pgproto3.Sync:
			if pending != "" {
				s.record(pending)
				txStatus = nextTxStatus(txStatus, pending)
				if err := s.respond(backend, pending, txStatus, true); err != nil {
					return
				}
				pending = ""
			} else {
				backend.Send(&pgproto3.ReadyForQuery{TxStatus: txStatus})
				if err := backend.Flush(); err != nil {
					return
				}
			}
		case *pgproto3.Query:
			s.record(m.String)
			txStatus = nextTxStatus(txStatus, m.String)
			if err := s.respond(backend, m.String, txStatus, false); err != nil {
				return
			}
		case *pgproto3.Terminate:
			return
		default:
			// Anything else (Flush, Close, ...) needs no reply here.
		}
	}
}

func (s *Server) handleStartup(backend *pgproto3.Backend, conn net.Conn) error {
	startupMessage, err := backend.ReceiveStartupMessage()
	if err != nil {
		return errtrace.Errorf("error receiving startup message: %w", err)
	}

	switch startupMessage.(type) {
	case *pgproto3.StartupMessage:
		backend.Send(&pgproto3.AuthenticationOk{})
		backend.Send(&pgproto3.ParameterStatus{Name: "server_version", Value: "16.2"})
		backend.Send(&pgproto3.ParameterStatus{Name: "client_encoding", Value: "UTF8"})
		backend.Send(&pgproto3.ParameterStatus{Name: "standard_conforming_strings", Value: "on"})
		backend.Send(&pgproto3.BackendKeyData{ProcessID: 1, SecretKey: 1})
		backend.Send(&pgproto3.ReadyForQuery{TxStatus: 'I'})
		return errtrace.Wrap(backend.Flush())
	case *pgproto3.SSLRequest, *pgproto3.GSSEncRequest:
		// Refuse the upgrade; the client continues in cleartext.
		if _, err := conn.Write([]byte("N")); err != nil {
			return errtrace.Wrap(err)
		}
		return errtrace.Wrap(s.handleStartup(backend, conn))
	case *pgproto3.CancelRequest:
		return errtrace.New("cancel request")
	default:
		return errtrace.Errorf("unknown startup message: %#v", startupMessage)
	}
}

func (s *Server) respond(backend *pgproto3.Backend, query string, txStatus byte, extended bool) error {
	res, scripted := s.script[query]

	if extended {
		backend.Send(&pgproto3.ParseComplete{})
		backend.Send(&pgproto3.BindComplete{})
	}

	switch {
	case res.Err != nil:
		backend.Send(res.Err)
	case len(res.Columns) > 0:
		fields := make([]pgproto3.FieldDescription, len(res.Columns))
		for i, column := range res.Columns {
			fields[i] = pgproto3.FieldDescription{
				Name:         []byte(column.Name),
				DataTypeOID:  column.OID,
				DataTypeSize: -1,
				TypeModifier: -1,
				Format:       0,
			}
		}
		backend.Send(&pgproto3.RowDescription{Fields: fields})
		for _, row := range res.Rows {
			values := make([][]byte, len(row))
			for i, value := range row {
				if value != nil {
					values[i] = []byte(*value)
				}
			}
			backend.Send(&pgproto3.DataRow{Values: values})
		}
		backend.Send(&pgproto3.CommandComplete{CommandTag: []byte(tagFor(res, scripted, query))})
	default:
		if extended {
			backend.Send(&pgproto3.NoData{})
		}
		backend.Send(&pgproto3.CommandComplete{CommandTag: []byte(tagFor(res, scripted, query))})
	}

	backend.Send(&pgproto3.ReadyForQuery{TxStatus: txStatus})
	return errtrace.Wrap(backend.Flush())
}

func tagFor(res Result, scripted bool, query string) string {
	if scripted && res.Tag != "" {
		return res.Tag
	}
	switch firstKeyword(query) {
	case "SELECT":
		return "SELECT " + strconv.Itoa(len(res.Rows))
	case "INSERT":
		return "INSERT 0 " + strconv.Itoa(len(res.Rows))
	default:
		return firstKeyword(query)
	}
}

func firstKeyword(query string) string {
	fields := strings.Fields(query)
	if len(fields) == 0 {
		return ""
	}
	return strings.ToUpper(fields[0])
}

func nextTxStatus(current byte, query string) byte {
	switch firstKeyword(query) {
	case "BEGIN":
		return 'T'
	case "COMMIT", "ROLLBACK":
		return 'I'
	default:
		return current
	}
}

func (s *Server) record(query string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queries = append(s.queries, query)
}
