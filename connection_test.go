package zorm

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestLoadDBConfig_Defaults(t *testing.T) {
	cfg, err := LoadDBConfig()
	if err != nil {
		t.Fatalf("LoadDBConfig failed: %v", err)
	}
	if cfg.Driver != "sqlite3" || cfg.DSN != ":memory:" {
		t.Errorf("unexpected defaults %s %s", cfg.Driver, cfg.DSN)
	}
	if cfg.PingTimeout != 5*time.Second || cfg.MaxOpenConns != 0 {
		t.Errorf("unexpected pool defaults %+v", cfg)
	}
}

func TestLoadDBConfig_Environment(t *testing.T) {
	t.Setenv("ZORM_DRIVER", "pgx")
	t.Setenv("ZORM_DSN", "postgres://localhost/app")
	t.Setenv("ZORM_MAX_OPEN_CONNS", "20")
	t.Setenv("ZORM_CONN_MAX_LIFETIME", "30m")

	cfg, err := LoadDBConfig()
	if err != nil {
		t.Fatalf("LoadDBConfig failed: %v", err)
	}
	if cfg.Driver != "pgx" || cfg.DSN != "postgres://localhost/app" {
		t.Errorf("unexpected connection settings %s %s", cfg.Driver, cfg.DSN)
	}
	if cfg.MaxOpenConns != 20 || cfg.ConnMaxLifetime != 30*time.Minute {
		t.Errorf("unexpected pool settings %+v", cfg)
	}

	t.Setenv("ZORM_PING_TIMEOUT", "soon")
	if _, err := LoadDBConfig(); err == nil {
		t.Error("expected an error for an invalid duration")
	}
}

func TestConnectSQLite(t *testing.T) {
	ctx := context.Background()

	db, err := ConnectSQLite(ctx, ":memory:", &DBConfig{PingTimeout: time.Second, MaxIdleConns: 1})
	if err != nil {
		t.Fatalf("ConnectSQLite failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if got := db.Stats().MaxOpenConnections; got != 1 {
		t.Errorf("expected one connection for :memory:, got %d", got)
	}
	if DetectDialect(db) != Dialects.SQLite3 {
		t.Error("expected the sqlite3 dialect")
	}

	if _, err := db.ExecContext(ctx, "CREATE TABLE probe (id INTEGER PRIMARY KEY)"); err != nil {
		t.Fatal(err)
	}
	if _, err := db.ExecContext(ctx, "INSERT INTO probe (id) VALUES (1)"); err != nil {
		t.Fatal(err)
	}

	n, err := Query[int64]().SetDB(db).Table("probe").Count(ctx)
	if err != nil || n != 1 {
		t.Errorf("expected count 1, got %d (%v)", n, err)
	}
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	if _, err := Open(ctx, nil); !errors.Is(err, ErrNilPointer) {
		t.Errorf("expected ErrNilPointer, got %v", err)
	}

	db, err := Open(ctx, &DBConfig{Driver: "sqlite", DSN: ":memory:"})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	db.Close()

	_, err = Connect(ctx, "oracle", "scott/tiger", nil)
	if err == nil || !strings.Contains(err.Error(), `unknown driver "oracle"`) {
		t.Errorf("expected an unknown driver error, got %v", err)
	}

	_, err = ConnectMySQL(ctx, "not a dsn", nil)
	if err == nil || !strings.Contains(err.Error(), "parse mysql dsn") {
		t.Errorf("expected a dsn parse error, got %v", err)
	}
}

func TestPrintRelations(t *testing.T) {
	var buf bytes.Buffer
	if err := PrintRelations(&buf); err != nil {
		t.Fatalf("PrintRelations failed: %v", err)
	}

	out := buf.String()
	for _, want := range []string{"OWNER", "TC_PLAYLISTS.SONG_IDS", "TCPLAYLIST"} {
		if !strings.Contains(strings.ToUpper(out), want) {
			t.Errorf("expected %s in\n%s", want, out)
		}
	}

	var found *Relation
	rels := Relations()
	for i := range rels {
		if rels[i].Table == "tc_playlists" && rels[i].Name == "songs" {
			found = &rels[i]
		}
	}
	if found == nil {
		t.Fatal("songs relation not registered")
	}
	if found.Kind != KindBelongsToMany || found.Storage != ColumnJSON || found.Target != "tcSong" {
		t.Errorf("unexpected descriptor %+v", *found)
	}
	if found.Dialect != "sqlite3" || !found.Touch {
		t.Errorf("unexpected descriptor %+v", *found)
	}

	for i := 1; i < len(rels); i++ {
		if rels[i-1].Table > rels[i].Table {
			t.Errorf("relations not sorted by table: %s before %s", rels[i-1].Table, rels[i].Table)
		}
	}
}
