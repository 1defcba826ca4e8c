package zorm

import (
	"context"
	"database/sql"
	"errors"
	"testing"
)

const scSchema = `
	CREATE TABLE sc_lists (id INTEGER PRIMARY KEY, name TEXT, song_ids TEXT);
	INSERT INTO sc_lists (id, name, song_ids) VALUES
		(1, 'road trip', '[3,1,2]'),
		(2, 'focus', '[]'),
		(3, 'gym', '[2]');
`

func TestScalarQuery_Get(t *testing.T) {
	db := openTestDB(t, scSchema)
	ctx := context.Background()

	names, err := Query[string]().SetDB(db).
		Table("sc_lists").
		Select("name").
		Where("id", ">", 1).
		OrderBy("name", "asc").
		Get(ctx)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if len(names) != 2 || names[0] != "focus" || names[1] != "gym" {
		t.Errorf("expected [focus gym], got %v", names)
	}

	lists, err := Query[IDs]().SetDB(db).Table("sc_lists").Select("song_ids").Where("id", 1).Get(ctx)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if len(lists) != 1 || !lists[0].Equal(IDs{3, 1, 2}) {
		t.Errorf("expected [[3 1 2]], got %v", lists)
	}

	backend, err := BackendFor(Dialects.SQLite3, ColumnText)
	if err != nil {
		t.Fatal(err)
	}
	matching, err := Query[int64]().SetDB(db).
		Table("sc_lists").
		Select("id").
		WherePredicate(backend.Contains("song_ids", 2)).
		OrderBy("id", "ASC").
		Get(ctx)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if len(matching) != 2 || matching[0] != 1 || matching[1] != 3 {
		t.Errorf("expected [1 3], got %v", matching)
	}
}

func TestScalarQuery_FirstAndCount(t *testing.T) {
	db := openTestDB(t, scSchema)
	ctx := context.Background()

	name, err := Query[string]().SetDB(db).Table("sc_lists").Select("name").OrderBy("id", "DESC").First(ctx)
	if err != nil || name != "gym" {
		t.Errorf("expected gym, got %q (%v)", name, err)
	}

	_, err = Query[string]().SetDB(db).Table("sc_lists").Select("name").Where("id", 99).First(ctx)
	if !errors.Is(err, ErrRecordNotFound) {
		t.Errorf("expected ErrRecordNotFound, got %v", err)
	}

	n, err := Query[int64]().SetDB(db).Table("sc_lists").WhereIn("id", []any{1, 3, 99}).Count(ctx)
	if err != nil || n != 2 {
		t.Errorf("expected count 2, got %d (%v)", n, err)
	}

	n, err = Query[int64]().SetDB(db).Table("sc_lists").WhereIn("id", nil).Count(ctx)
	if err != nil || n != 0 {
		t.Errorf("expected count 0 for an empty IN, got %d (%v)", n, err)
	}
}

func TestScalarQuery_Print(t *testing.T) {
	q := Query[int64]().
		SetDialect(Dialects.PostgreSQL).
		Table("sc_lists").
		Select("id").
		Distinct().
		Where("name", "gym").
		WhereIn("id", []any{1, 2}).
		OrderBy("id", "sideways").
		Limit(10).
		Offset(5)

	query, args := q.Print()
	want := "SELECT DISTINCT id FROM sc_lists WHERE 1=1 AND name = $1 AND id IN ($2, $3) ORDER BY id DESC LIMIT 10 OFFSET 5"
	if query != want {
		t.Errorf("expected %q, got %q", want, query)
	}
	if len(args) != 3 || args[0] != "gym" || args[1] != 1 || args[2] != 2 {
		t.Errorf("unexpected args %v", args)
	}

	// Unsafe identifiers and operators are dropped.
	query, _ = Query[string]().SetDialect(Dialects.SQLite3).
		Table("sc_lists; DROP TABLE x").
		Select("name").
		Where("id", "LIKE '%'; --", 1).
		Print()
	if query != "SELECT name FROM " {
		t.Errorf("expected unsafe input to be ignored, got %q", query)
	}

	cloned, _ := q.Clone().Where("id", 7).Print()
	original, _ := q.Print()
	if cloned == original {
		t.Error("Clone shares state with the original")
	}
}

func TestScalarQuery_NoConnection(t *testing.T) {
	if GlobalDB != nil {
		t.Skip("a global connection is configured")
	}
	_, err := Query[int64]().Table("sc_lists").Select("id").Get(context.Background())
	if !errors.Is(err, sql.ErrConnDone) {
		t.Errorf("expected sql.ErrConnDone, got %v", err)
	}
}
