package testing

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgproto3/v2"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

func TestMockServer_SelectSteps(t *testing.T) {
	fields := []pgproto3.FieldDescription{
		{Name: []byte("n"), DataTypeOID: 23, DataTypeSize: 4, TypeModifier: -1},
	}
	steps := AcceptConnSteps()
	steps = append(steps, SelectSteps("select n from t", fields, [][][]byte{{[]byte("1")}, {[]byte("2")}})...)
	steps = append(steps, WaitForClose())

	server := NewMockServer(t, steps...)
	defer server.Close()
	errCh := server.ServeAsync()

	ctx := context.Background()
	cfg, err := pgx.ParseConfig(server.ConnString())
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	cfg.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol
	conn, err := pgx.ConnectConfig(ctx, cfg)
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}

	rows, err := conn.Query(ctx, "select n from t")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	ns, err := pgx.CollectRows(rows, pgx.RowTo[int32])
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if len(ns) != 2 || ns[0] != 1 || ns[1] != 2 {
		t.Errorf("rows = %v, want [1 2]", ns)
	}

	conn.Close(ctx)
	if err := <-errCh; err != nil {
		t.Fatalf("server error: %v", err)
	}
}

func TestMockServer_RejectStartup(t *testing.T) {
	server := NewMockServer(t, RejectStartupSteps(pgerrcode.CannotConnectNow, "the database system is starting up")...)
	defer server.Close()
	errCh := server.ServeAsync()

	_, err := pgx.Connect(context.Background(), server.ConnString())
	if err == nil {
		t.Fatal("expected connect to fail")
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != pgerrcode.CannotConnectNow {
		t.Errorf("expected SQLSTATE %s, got %v", pgerrcode.CannotConnectNow, err)
	}
	<-errCh
}

func TestMockServer_Endpoint(t *testing.T) {
	server := NewMockServer(t)
	defer server.Close()

	if server.Host() != "127.0.0.1" {
		t.Errorf("Host() = %q", server.Host())
	}
	if server.Port() == 0 {
		t.Error("Port() should be the bound port")
	}
}

func TestAcceptConnSteps_ReportsStandardConformingStrings(t *testing.T) {
	steps := append(AcceptConnSteps(), WaitForClose())
	server := NewMockServer(t, steps...)
	defer server.Close()
	errCh := server.ServeAsync()

	ctx := context.Background()
	conn, err := pgx.Connect(ctx, server.ConnString())
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	if got := conn.PgConn().ParameterStatus("standard_conforming_strings"); got != "on" {
		t.Errorf("standard_conforming_strings = %q, want on", got)
	}

	conn.Close(ctx)
	if err := <-errCh; err != nil {
		t.Fatalf("server error: %v", err)
	}
}
