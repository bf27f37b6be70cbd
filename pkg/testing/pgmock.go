// Package testing provides a scripted PostgreSQL server for tests that need a
// real wire-protocol peer without a running database.
package testing

import (
	"net"
	"strconv"
	"testing"

	"github.com/jackc/pgmock"
	"github.com/jackc/pgproto3/v2"
)

// MockServer serves one connection from a pgmock script.
type MockServer struct {
	Script   *pgmock.Script
	Listener net.Listener
	t        *testing.T
}

// NewMockServer listens on a random loopback port.
func NewMockServer(t *testing.T, steps ...pgmock.Step) *MockServer {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to create listener: %v", err)
	}

	return &MockServer{
		Script:   &pgmock.Script{Steps: steps},
		Listener: listener,
		t:        t,
	}
}

// Addr returns host:port of the listener.
func (m *MockServer) Addr() string {
	return m.Listener.Addr().String()
}

// Host and Port split Addr.
func (m *MockServer) Host() string {
	return m.Listener.Addr().(*net.TCPAddr).IP.String()
}

func (m *MockServer) Port() int {
	return m.Listener.Addr().(*net.TCPAddr).Port
}

// ConnString returns a URL that connects without TLS or authentication.
func (m *MockServer) ConnString() string {
	return "postgres://postgres@" + m.Addr() + "/postgres?sslmode=disable"
}

// Serve accepts a single connection and runs the script against it.
func (m *MockServer) Serve() error {
	conn, err := m.Listener.Accept()
	if err != nil {
		return err
	}
	defer conn.Close()

	backend := pgproto3.NewBackend(pgproto3.NewChunkReader(conn), conn)
	return m.Script.Run(backend)
}

// ServeAsync runs Serve in a goroutine and reports its result on the channel.
func (m *MockServer) ServeAsync() <-chan error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- m.Serve()
	}()
	return errCh
}

// Close closes the listener.
func (m *MockServer) Close() error {
	return m.Listener.Close()
}

// AcceptConnSteps accepts an unauthenticated startup. The server reports
// standard_conforming_strings=on, which pgx requires before it will send
// simple-protocol queries.
func AcceptConnSteps() []pgmock.Step {
	steps := pgmock.AcceptUnauthenticatedConnRequestSteps()
	ready := steps[len(steps)-1]
	return append(steps[:len(steps)-1:len(steps)-1],
		SendParameterStatus("standard_conforming_strings", "on"),
		ready,
	)
}

func SendParameterStatus(name, value string) pgmock.Step {
	return pgmock.SendMessage(&pgproto3.ParameterStatus{Name: name, Value: value})
}

// ExpectQuery expects a simple-protocol Query message.
func ExpectQuery(query string) pgmock.Step {
	return pgmock.ExpectMessage(&pgproto3.Query{String: query})
}

func SendRowDescription(fields []pgproto3.FieldDescription) pgmock.Step {
	return pgmock.SendMessage(&pgproto3.RowDescription{Fields: fields})
}

func SendDataRow(values [][]byte) pgmock.Step {
	return pgmock.SendMessage(&pgproto3.DataRow{Values: values})
}

func SendCommandComplete(tag string) pgmock.Step {
	return pgmock.SendMessage(&pgproto3.CommandComplete{CommandTag: []byte(tag)})
}

// SendReadyForQuery sends ReadyForQuery with status 'I', 'T' or 'E'.
func SendReadyForQuery(status byte) pgmock.Step {
	return pgmock.SendMessage(&pgproto3.ReadyForQuery{TxStatus: status})
}

func SendError(severity, code, message string) pgmock.Step {
	return pgmock.SendMessage(&pgproto3.ErrorResponse{
		Severity: severity,
		Code:     code,
		Message:  message,
	})
}

// RejectStartupSteps answers the startup message with an error, the way a
// server that is still starting up does.
func RejectStartupSteps(code, message string) []pgmock.Step {
	return []pgmock.Step{
		pgmock.ExpectAnyMessage(&pgproto3.StartupMessage{ProtocolVersion: pgproto3.ProtocolVersionNumber, Parameters: map[string]string{}}),
		SendError("FATAL", code, message),
	}
}

func WaitForClose() pgmock.Step {
	return pgmock.WaitForClose()
}

// SelectSteps answers query with the given rows, one DataRow per entry.
func SelectSteps(query string, fields []pgproto3.FieldDescription, rows [][][]byte) []pgmock.Step {
	steps := []pgmock.Step{
		ExpectQuery(query),
		SendRowDescription(fields),
	}
	for _, row := range rows {
		steps = append(steps, SendDataRow(row))
	}
	return append(steps,
		SendCommandComplete(selectTag(len(rows))),
		SendReadyForQuery('I'),
	)
}

func selectTag(n int) string {
	return "SELECT " + strconv.Itoa(n)
}
