package testsupport

import (
	"context"
	"encoding/json"
	"os"
	"testing"
)

func TestLoadFixture(t *testing.T) {
	path := WriteFile(t, "test.txt", []byte("test fixture content"))

	result := LoadFixture(t, path)
	if string(result) != "test fixture content" {
		t.Errorf("expected %q, got %q", "test fixture content", result)
	}
}

func TestLoadFixture_NonExistentFile(t *testing.T) {
	_, err := os.ReadFile("non-existent-file.txt")
	if err == nil {
		t.Error("expected error for non-existent file")
	}
}

func TestLoadFixtureJSON_UsesNumbers(t *testing.T) {
	path := WriteFile(t, "test.json", []byte(`{"name":"test","value":9007199254740993}`))

	var result map[string]any
	LoadFixtureJSON(t, path, &result)

	if result["name"] != "test" {
		t.Errorf("expected name to be 'test', got %v", result["name"])
	}
	n, ok := result["value"].(json.Number)
	if !ok {
		t.Fatalf("expected json.Number, got %T", result["value"])
	}
	if n.String() != "9007199254740993" {
		t.Errorf("expected exact integer, got %s", n)
	}
}

func TestFixturePath(t *testing.T) {
	if got := FixturePath("config.yaml"); got != "testdata/config.yaml" {
		t.Errorf("expected testdata/config.yaml, got %s", got)
	}
}

func TestSQLite_CountingConn(t *testing.T) {
	db := SQLite(t, "CREATE TABLE items (id INTEGER PRIMARY KEY, name TEXT)")
	conn := NewCountingConn(db)
	ctx := context.Background()

	if _, err := conn.ExecContext(ctx, "INSERT INTO items (name) VALUES ('a')"); err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	rows, err := conn.QueryContext(ctx, "SELECT name FROM items")
	if err != nil {
		t.Fatalf("select failed: %v", err)
	}
	rows.Close()

	if conn.Count() != 2 {
		t.Errorf("expected 2 statements, got %d", conn.Count())
	}
	if got := conn.Statements()[1]; got != "SELECT name FROM items" {
		t.Errorf("unexpected statement %q", got)
	}
	conn.Reset()
	if conn.Count() != 0 {
		t.Errorf("expected reset to clear statements, got %d", conn.Count())
	}
}
