package zorm

import (
	"context"
	"database/sql"
	"errors"
	"testing"
)

type hmUser struct {
	ID   int64
	Name string
}

func (hmUser) TableName() string { return "hm_users" }

type hmGroup struct {
	ID      int64
	Name    string
	UserIDs IDs
}

func (hmGroup) TableName() string { return "hm_groups" }

type hmProfile struct {
	ID     int64
	Bio    string
	UserID int64
}

func (hmProfile) TableName() string { return "hm_profiles" }

var (
	userGroups   = MustDeclareHasMany[hmUser, hmGroup]("groups", HasManyConfig{JSONForeignKey: "user_ids", Dialect: Dialects.SQLite3})
	userProfiles = MustDeclareHasMany[hmUser, hmProfile]("profiles", HasManyConfig{ForeignKey: "user_id", Dialect: Dialects.SQLite3})
)

const hmSchema = `
	CREATE TABLE hm_users (id INTEGER PRIMARY KEY, name TEXT);
	CREATE TABLE hm_groups (id INTEGER PRIMARY KEY, name TEXT, user_ids TEXT NOT NULL DEFAULT '[]');
	CREATE TABLE hm_profiles (id INTEGER PRIMARY KEY, bio TEXT, user_id INTEGER NOT NULL DEFAULT 0);
`

func createGroups(t *testing.T, db *sql.DB, groups ...*hmGroup) {
	t.Helper()
	for _, g := range groups {
		if err := New[hmGroup]().SetDB(db).Create(context.Background(), g); err != nil {
			t.Fatalf("create group %s: %v", g.Name, err)
		}
	}
}

func reloadGroup(t *testing.T, db *sql.DB, id int64) *hmGroup {
	t.Helper()
	g, err := New[hmGroup]().SetDB(db).Find(context.Background(), id)
	if err != nil {
		t.Fatalf("reload group %d: %v", id, err)
	}
	return g
}

func TestDeclareHasMany_Strategy(t *testing.T) {
	if !userGroups.UsesArray() || userGroups.Column() != "user_ids" {
		t.Errorf("expected array link on user_ids, got array=%v column=%s", userGroups.UsesArray(), userGroups.Column())
	}
	if userProfiles.UsesArray() || userProfiles.Column() != "user_id" {
		t.Errorf("expected foreign key link on user_id, got array=%v column=%s", userProfiles.UsesArray(), userProfiles.Column())
	}

	// The default foreign key is derived from the type name.
	_, err := DeclareHasMany[hmUser, hmProfile]("profiles", HasManyConfig{})
	if !IsConfigurationError(err) {
		t.Errorf("expected ConfigurationError for missing hm_user_id, got %v", err)
	}
	_, err = DeclareHasMany[hmUser, hmProfile]("profiles", HasManyConfig{JSONForeignKey: "bio"})
	if !IsConfigurationError(err) {
		t.Errorf("expected ConfigurationError for a non IDs column, got %v", err)
	}
}

func TestHasMany_DeferredWriteForUnsavedRecord(t *testing.T) {
	db := openTestDB(t, hmSchema)
	ctx := context.Background()
	rel := userGroups.SetDB(db)

	admins := &hmGroup{Name: "admins", UserIDs: IDs{}}
	staff := &hmGroup{Name: "staff", UserIDs: IDs{42}}
	createGroups(t, db, admins, staff)

	u := &hmUser{Name: "ann"}
	if err := rel.SetRecords(ctx, u, []*hmGroup{admins, staff, admins}); err != nil {
		t.Fatalf("SetRecords failed: %v", err)
	}

	// Nothing is written before the user has an id.
	if g := reloadGroup(t, db, admins.ID); len(g.UserIDs) != 0 {
		t.Fatalf("owner written before the record was saved: %v", g.UserIDs)
	}
	pendingIDs, err := rel.IDs(ctx, u)
	if err != nil || !pendingIDs.Equal(IDs{admins.ID, staff.ID}) {
		t.Errorf("expected pending ids [%d,%d], got %v (%v)", admins.ID, staff.ID, pendingIDs, err)
	}
	if ok, _ := rel.HasAny(ctx, u); !ok {
		t.Error("expected HasAny for a pending assignment")
	}

	if err := New[hmUser]().SetDB(db).Create(ctx, u); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if g := reloadGroup(t, db, admins.ID); !g.UserIDs.Equal(IDs{u.ID}) {
		t.Errorf("admins.user_ids = %v, want [%d]", g.UserIDs, u.ID)
	}
	if g := reloadGroup(t, db, staff.ID); !g.UserIDs.Equal(IDs{42, u.ID}) {
		t.Errorf("staff.user_ids = %v, want [42,%d]", g.UserIDs, u.ID)
	}

	// The buffer is consumed: saving another record doesn't reflush it.
	other := &hmUser{Name: "bob"}
	if err := New[hmUser]().SetDB(db).Create(ctx, other); err != nil {
		t.Fatal(err)
	}
	if g := reloadGroup(t, db, staff.ID); !g.UserIDs.Equal(IDs{42, u.ID}) {
		t.Errorf("buffer flushed twice: %v", g.UserIDs)
	}

	records, err := rel.Records(ctx, u)
	if err != nil {
		t.Fatalf("Records failed: %v", err)
	}
	if len(records) != 2 || records[0].ID != admins.ID || records[1].ID != staff.ID {
		t.Errorf("unexpected groups for user: %+v", records)
	}
}

func TestHasMany_PendingFlushInsideTransaction(t *testing.T) {
	db := openTestDB(t, hmSchema)
	ctx := context.Background()

	g := &hmGroup{Name: "ops"}
	createGroups(t, db, g)

	u := &hmUser{Name: "cy"}
	err := TransactionOn(ctx, db, func(tx *Tx) error {
		if err := userGroups.WithTx(tx).SetRecords(ctx, u, []*hmGroup{g}); err != nil {
			return err
		}
		return New[hmUser]().SetDB(db).WithTx(tx).Create(ctx, u)
	})
	if err != nil {
		t.Fatalf("transaction failed: %v", err)
	}
	if got := reloadGroup(t, db, g.ID); !got.UserIDs.Equal(IDs{u.ID}) {
		t.Errorf("ops.user_ids = %v, want [%d]", got.UserIDs, u.ID)
	}
}

func TestHasMany_FailedFlushRollsBackCreate(t *testing.T) {
	db := openTestDB(t, hmSchema)
	ctx := context.Background()
	rel := userGroups.SetDB(db)

	admins := &hmGroup{Name: "admins", UserIDs: IDs{}}
	createGroups(t, db, admins)

	u := &hmUser{Name: "ann"}
	if err := rel.SetRecords(ctx, u, []*hmGroup{admins}); err != nil {
		t.Fatalf("SetRecords failed: %v", err)
	}
	if _, err := db.Exec("DROP TABLE hm_groups"); err != nil {
		t.Fatal(err)
	}

	err := New[hmUser]().SetDB(db).Create(ctx, u)
	var relErr *RelationError
	if !errors.As(err, &relErr) {
		t.Fatalf("expected RelationError from the flush, got %v", err)
	}

	var n int
	if err := db.QueryRow("SELECT COUNT(*) FROM hm_users").Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("expected the insert to roll back, found %d users", n)
	}
	if u.ID != 0 || IsTracked(u) {
		t.Errorf("expected an unsaved record after rollback, got id=%d tracked=%v", u.ID, IsTracked(u))
	}

	// A retry inserts exactly one row.
	if err := New[hmUser]().SetDB(db).Create(ctx, u); err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if err := db.QueryRow("SELECT COUNT(*) FROM hm_users").Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 1 || u.ID == 0 {
		t.Errorf("expected one user after retry, got %d (id=%d)", n, u.ID)
	}
}

func TestHasMany_UnsavedOwnerIsRejected(t *testing.T) {
	ctx := context.Background()
	err := userGroups.SetRecords(ctx, &hmUser{}, []*hmGroup{{Name: "draft"}})
	if !IsInputError(err) || !errors.Is(err, ErrUnpersisted) {
		t.Errorf("expected unpersisted InputError, got %v", err)
	}
	err = userGroups.SetRecords(ctx, &hmUser{ID: 1}, []*hmGroup{{Name: "draft"}})
	if !IsInputError(err) {
		t.Errorf("expected InputError for saved record too, got %v", err)
	}
}

func TestHasMany_SetRecordsRewritesOwners(t *testing.T) {
	db := openTestDB(t, hmSchema)
	ctx := context.Background()
	rel := userGroups.SetDB(db)

	u := &hmUser{Name: "dee"}
	if err := New[hmUser]().SetDB(db).Create(ctx, u); err != nil {
		t.Fatal(err)
	}

	g1 := &hmGroup{Name: "g1", UserIDs: IDs{u.ID, 7}}
	g2 := &hmGroup{Name: "g2", UserIDs: IDs{u.ID}}
	g3 := &hmGroup{Name: "g3", UserIDs: IDs{7}}
	createGroups(t, db, g1, g2, g3)

	if err := rel.SetRecords(ctx, u, []*hmGroup{g2, g3}); err != nil {
		t.Fatalf("SetRecords failed: %v", err)
	}

	if got := reloadGroup(t, db, g1.ID); !got.UserIDs.Equal(IDs{7}) {
		t.Errorf("g1 must lose the user, got %v", got.UserIDs)
	}
	if got := reloadGroup(t, db, g2.ID); !got.UserIDs.Equal(IDs{u.ID}) {
		t.Errorf("g2 must keep the user once, got %v", got.UserIDs)
	}
	if got := reloadGroup(t, db, g3.ID); !got.UserIDs.Equal(IDs{7, u.ID}) {
		t.Errorf("g3 must gain the user, got %v", got.UserIDs)
	}
	if !g3.UserIDs.Equal(IDs{7, u.ID}) {
		t.Errorf("passed owners are updated in memory, got %v", g3.UserIDs)
	}

	ids, err := rel.IDs(ctx, u)
	if err != nil || !ids.Equal(IDs{g2.ID, g3.ID}) {
		t.Errorf("IDs = %v (%v), want [%d,%d]", ids, err, g2.ID, g3.ID)
	}

	if err := rel.SetIDs(ctx, u, []string{""}); err != nil {
		t.Fatalf("SetIDs failed: %v", err)
	}
	if ok, err := rel.HasAny(ctx, u); err != nil || ok {
		t.Errorf("expected no groups after clearing, got %v (%v)", ok, err)
	}
}

func TestHasMany_SetIDs(t *testing.T) {
	db := openTestDB(t, hmSchema)
	ctx := context.Background()
	rel := userGroups.SetDB(db)

	u := &hmUser{Name: "eve"}
	if err := New[hmUser]().SetDB(db).Create(ctx, u); err != nil {
		t.Fatal(err)
	}
	g1 := &hmGroup{Name: "g1"}
	g2 := &hmGroup{Name: "g2"}
	createGroups(t, db, g1, g2)

	if err := rel.SetIDs(ctx, u, []any{g2.ID, "", g2.ID}); err != nil {
		t.Fatalf("SetIDs failed: %v", err)
	}
	if got := reloadGroup(t, db, g2.ID); !got.UserIDs.Equal(IDs{u.ID}) {
		t.Errorf("g2.user_ids = %v", got.UserIDs)
	}
	if got := reloadGroup(t, db, g1.ID); len(got.UserIDs) != 0 {
		t.Errorf("g1.user_ids = %v", got.UserIDs)
	}

	err := rel.SetIDs(ctx, u, IDs{g1.ID, 999})
	if !IsNotFound(err) {
		t.Errorf("expected not found for a missing owner, got %v", err)
	}
}

func TestHasMany_BuildAndCreate(t *testing.T) {
	db := openTestDB(t, hmSchema)
	ctx := context.Background()
	rel := userGroups.SetDB(db)

	if _, err := rel.Build(&hmUser{}); !errors.Is(err, ErrUnpersisted) {
		t.Errorf("Build on unsaved record = %v, want ErrUnpersisted", err)
	}

	u := &hmUser{Name: "fay"}
	if err := New[hmUser]().SetDB(db).Create(ctx, u); err != nil {
		t.Fatal(err)
	}

	built, err := rel.Build(u)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if !built.UserIDs.Equal(IDs{u.ID}) || built.ID != 0 {
		t.Errorf("unexpected built owner %+v", built)
	}

	created := &hmGroup{Name: "new", UserIDs: IDs{3}}
	if err := rel.Create(ctx, u, created); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if got := reloadGroup(t, db, created.ID); !got.UserIDs.Equal(IDs{3, u.ID}) {
		t.Errorf("created owner ids = %v", got.UserIDs)
	}
	if ok, _ := rel.HasAny(ctx, u); !ok {
		t.Error("expected HasAny after Create")
	}
}

func TestHasMany_ForeignKeyStrategy(t *testing.T) {
	db := openTestDB(t, hmSchema)
	ctx := context.Background()
	rel := userProfiles.SetDB(db)

	u := &hmUser{Name: "gus"}
	p1 := &hmProfile{Bio: "one"}
	p2 := &hmProfile{Bio: "two"}
	m := New[hmProfile]().SetDB(db)
	for _, p := range []*hmProfile{p1, p2} {
		if err := m.Create(ctx, p); err != nil {
			t.Fatal(err)
		}
	}

	if err := rel.SetRecords(ctx, u, []*hmProfile{p1, p2}); err != nil {
		t.Fatal(err)
	}
	if err := New[hmUser]().SetDB(db).Create(ctx, u); err != nil {
		t.Fatal(err)
	}

	ids, err := rel.IDs(ctx, u)
	if err != nil || !ids.Equal(IDs{p1.ID, p2.ID}) {
		t.Fatalf("IDs = %v (%v)", ids, err)
	}

	if err := rel.SetRecords(ctx, u, []*hmProfile{p2}); err != nil {
		t.Fatal(err)
	}
	got, err := m.Clone().Find(ctx, p1.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.UserID != 0 {
		t.Errorf("p1 must be unlinked, user_id = %d", got.UserID)
	}

	records, err := rel.Records(ctx, u)
	if err != nil || len(records) != 1 || records[0].ID != p2.ID {
		t.Errorf("Records = %+v (%v)", records, err)
	}

	built, _ := rel.Build(u)
	if built.UserID != u.ID {
		t.Errorf("Build must set user_id, got %d", built.UserID)
	}
}

func TestHasMany_Discard(t *testing.T) {
	ctx := context.Background()
	u := &hmUser{}
	if err := userGroups.SetRecords(ctx, u, []*hmGroup{{ID: 5}}); err != nil {
		t.Fatal(err)
	}
	userGroups.Discard(u)
	if ok, _ := userGroups.HasAny(ctx, u); ok {
		t.Error("discarded assignment must be gone")
	}
	if records, _ := userGroups.Records(ctx, u); len(records) != 0 {
		t.Errorf("expected no pending records, got %v", records)
	}
}

func TestHasMany_QueryNeedsSavedRecord(t *testing.T) {
	if _, err := userGroups.Query(&hmUser{}); !errors.Is(err, ErrUnpersisted) {
		t.Errorf("expected ErrUnpersisted, got %v", err)
	}
	q, err := userGroups.Query(&hmUser{ID: 3})
	if err != nil {
		t.Fatal(err)
	}
	sqlText, args := q.Print()
	want := "SELECT * FROM hm_groups WHERE 1=1 AND ((user_ids = ? OR user_ids LIKE ? OR user_ids LIKE ? OR user_ids LIKE ?)) ORDER BY id ASC"
	if sqlText != want || len(args) != 4 {
		t.Errorf("unexpected query %q %v", sqlText, args)
	}
}
