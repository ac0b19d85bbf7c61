package adapter

import (
	"reflect"
	"testing"

	"github.com/voiladb/voila/query"
)

func TestBuildSelectPlainWhere(t *testing.T) {
	sql, args, err := buildSelect("users", &query.Operation{
		Action: query.ActionFindMany,
		Where:  query.Where{"tenant_id": "t1"},
	})
	if err != nil {
		t.Fatal(err)
	}
	want := "SELECT * FROM users WHERE tenant_id = $1"
	if sql != want {
		t.Errorf("sql = %q, want %q", sql, want)
	}
	if !reflect.DeepEqual(args, []any{"t1"}) {
		t.Errorf("args = %v", args)
	}
}

func TestBuildSelectTenantEnvelopesOR(t *testing.T) {
	sql, args, err := buildSelect("users", &query.Operation{
		Action: query.ActionFindMany,
		Where: query.Where{"AND": []query.Where{
			{"tenant_id": "t1"},
			{"OR": []query.Where{{"status": "A"}, {"status": "B"}}},
		}},
	})
	if err != nil {
		t.Fatal(err)
	}
	want := "SELECT * FROM users WHERE (tenant_id = $1 AND (status = $2 OR status = $3))"
	if sql != want {
		t.Errorf("sql = %q, want %q", sql, want)
	}
	if !reflect.DeepEqual(args, []any{"t1", "A", "B"}) {
		t.Errorf("args = %v", args)
	}
}

func TestBuildSelectCount(t *testing.T) {
	sql, _, err := buildSelect("users", &query.Operation{
		Action: query.ActionCount,
		Where:  query.Where{"tenant_id": "t1"},
	})
	if err != nil {
		t.Fatal(err)
	}
	want := "SELECT COUNT(*) FROM users WHERE tenant_id = $1"
	if sql != want {
		t.Errorf("sql = %q", sql)
	}
}

func TestBuildSelectFindFirstLimits(t *testing.T) {
	sql, _, err := buildSelect("users", &query.Operation{Action: query.ActionFindFirst})
	if err != nil {
		t.Fatal(err)
	}
	want := "SELECT * FROM users LIMIT 1"
	if sql != want {
		t.Errorf("sql = %q", sql)
	}
}

func TestBuildSelectInList(t *testing.T) {
	sql, args, err := buildSelect("users", &query.Operation{
		Action: query.ActionFindMany,
		Where:  query.Where{"status": []any{"A", "B"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	want := "SELECT * FROM users WHERE status IN ($1,$2)"
	if sql != want {
		t.Errorf("sql = %q", sql)
	}
	if len(args) != 2 {
		t.Errorf("args = %v", args)
	}
}

func TestBuildInsert(t *testing.T) {
	sql, args, err := buildInsert("users", query.Record{"email": "x@e", "tenant_id": "t1"})
	if err != nil {
		t.Fatal(err)
	}
	// SetMap sorts columns.
	want := "INSERT INTO users (email,tenant_id) VALUES ($1,$2) RETURNING *"
	if sql != want {
		t.Errorf("sql = %q, want %q", sql, want)
	}
	if !reflect.DeepEqual(args, []any{"x@e", "t1"}) {
		t.Errorf("args = %v", args)
	}
}

func TestBuildUpdate(t *testing.T) {
	sql, args, err := buildUpdate("users", &query.Operation{
		Action: query.ActionUpdateMany,
		Where:  query.Where{"tenant_id": "t1"},
		Data:   query.Record{"status": "B"},
	})
	if err != nil {
		t.Fatal(err)
	}
	want := "UPDATE users SET status = $1 WHERE tenant_id = $2"
	if sql != want {
		t.Errorf("sql = %q", sql)
	}
	if !reflect.DeepEqual(args, []any{"B", "t1"}) {
		t.Errorf("args = %v", args)
	}
}

func TestBuildDelete(t *testing.T) {
	sql, args, err := buildDelete("users", &query.Operation{
		Action: query.ActionDeleteMany,
		Where:  query.Where{"tenant_id": "t1"},
	})
	if err != nil {
		t.Fatal(err)
	}
	want := "DELETE FROM users WHERE tenant_id = $1"
	if sql != want {
		t.Errorf("sql = %q", sql)
	}
	if !reflect.DeepEqual(args, []any{"t1"}) {
		t.Errorf("args = %v", args)
	}
}
