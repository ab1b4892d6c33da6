package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/dataserve/dataserve-sub000/dserr"
	"github.com/dataserve/dataserve-sub000/model"
)

// fakeEngine records calls and echoes the input back.
type fakeEngine struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeEngine) Run(_ context.Context, name string, input any) model.Result {
	f.mu.Lock()
	f.calls = append(f.calls, name)
	f.mu.Unlock()
	if name == "app.users:explode" {
		return model.Result{Err: dserr.New(dserr.InvalidCommand, "invalid command"), Meta: map[string]any{}}
	}
	return model.Result{Status: true, Value: input, Meta: map[string]any{"tableName": "users"}}
}

func decodeLines(t *testing.T, out string) []map[string]any {
	t.Helper()
	var lines []map[string]any
	scanner := bufio.NewScanner(strings.NewReader(out))
	for scanner.Scan() {
		var m map[string]any
		if err := json.Unmarshal(scanner.Bytes(), &m); err != nil {
			t.Fatalf("invalid output line %q: %v", scanner.Text(), err)
		}
		lines = append(lines, m)
	}
	return lines
}

func TestServe(t *testing.T) {
	in := strings.Join([]string{
		`{"id": 1, "command": "app.users:get", "input": {"id": 9007199254740993}}`,
		``,
		`not json`,
		`{"command": "app.users:explode", "input": null}`,
	}, "\n")

	engine := &fakeEngine{}
	var out bytes.Buffer
	if err := serve(context.Background(), engine, strings.NewReader(in), &out, 1); err != nil {
		t.Fatalf("serve failed: %v", err)
	}

	lines := decodeLines(t, out.String())
	if len(lines) != 3 {
		t.Fatalf("expected 3 responses, got %d: %s", len(lines), out.String())
	}

	if lines[0]["id"] != float64(1) || lines[0]["status"] != true {
		t.Errorf("unexpected first response: %v", lines[0])
	}
	if !strings.Contains(out.String(), `"result":{"id":9007199254740993}`) {
		t.Errorf("expected large integers to survive, got %s", out.String())
	}

	errPayload, _ := lines[1]["error"].(map[string]any)
	if lines[1]["status"] != false || errPayload["code"] != "INVALID_INPUT" {
		t.Errorf("expected INVALID_INPUT for a malformed line, got %v", lines[1])
	}

	errPayload, _ = lines[2]["error"].(map[string]any)
	if _, hasID := lines[2]["id"]; hasID {
		t.Errorf("did not expect an id without one in the request: %v", lines[2])
	}
	if errPayload["code"] != "INVALID_COMMAND" {
		t.Errorf("expected INVALID_COMMAND, got %v", lines[2])
	}

	if len(engine.calls) != 2 {
		t.Errorf("expected 2 engine calls, got %v", engine.calls)
	}
}

func TestServe_Concurrent(t *testing.T) {
	var in strings.Builder
	for i := range 50 {
		fmt.Fprintf(&in, `{"id": %d, "command": "app.users:get", "input": %d}`+"\n", i, i)
	}

	engine := &fakeEngine{}
	var out bytes.Buffer
	if err := serve(context.Background(), engine, strings.NewReader(in.String()), &out, 8); err != nil {
		t.Fatalf("serve failed: %v", err)
	}
	if lines := decodeLines(t, out.String()); len(lines) != 50 {
		t.Errorf("expected 50 responses, got %d", len(lines))
	}
}
