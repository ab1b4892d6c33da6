package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/dataserve/dataserve-sub000/dserr"
	"github.com/dataserve/dataserve-sub000/model"
)

// maxLine bounds a single request line.
const maxLine = 16 << 20

// request is one input line: {"id": ..., "command": "db.table:cmd", "input": ...}.
type request struct {
	ID      any    `json:"id,omitempty"`
	Command string `json:"command"`
	Input   any    `json:"input"`
}

// response echoes the request id next to the result fields.
type response struct {
	ID     any
	Result model.Result
}

func (r response) MarshalJSON() ([]byte, error) {
	body, err := json.Marshal(r.Result)
	if err != nil || r.ID == nil {
		return body, err
	}
	id, err := json.Marshal(r.ID)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(body)+len(id)+8)
	out = append(out, `{"id":`...)
	out = append(out, id...)
	out = append(out, ',')
	return append(out, body[1:]...), nil
}

// runner is the part of the engine serve needs.
type runner interface {
	Run(ctx context.Context, name string, input any) model.Result
}

func decode(line []byte) (request, error) {
	var req request
	dec := json.NewDecoder(bytes.NewReader(line))
	dec.UseNumber()
	if err := dec.Decode(&req); err != nil {
		return req, dserr.Wrap(err, dserr.InvalidInput, "malformed request line")
	}
	return req, nil
}

// serve answers one JSON line per request line until r is exhausted or ctx is
// done. Malformed lines produce a failed result, never an abort.
func serve(ctx context.Context, engine runner, r io.Reader, w io.Writer, concurrency int) error {
	if concurrency < 1 {
		concurrency = 1
	}
	var mu sync.Mutex
	enc := json.NewEncoder(w)
	write := func(resp response) error {
		mu.Lock()
		defer mu.Unlock()
		return enc.Encode(resp)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLine)
	for scanner.Scan() {
		if gctx.Err() != nil {
			break
		}
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		req, err := decode(line)
		if err != nil {
			if err := write(response{Result: model.Result{Err: err, Meta: map[string]any{}}}); err != nil {
				return err
			}
			continue
		}
		g.Go(func() error {
			return write(response{ID: req.ID, Result: engine.Run(gctx, req.Command, req.Input)})
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return scanner.Err()
}
