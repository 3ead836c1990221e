package worker

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
)

// Generator runs one generation and produces its artifact. Pipeline.Generate
// implements it; RunChild is the glue between that pipeline and the JSON
// lines the parent Dispatcher expects on stdout.
type Generator interface {
	Generate(ctx context.Context, name string) (*Record, error)
}

// RunChild reads a single Request from r, runs it through gen, and writes
// exactly one Response to w. It is the body of the hidden "internal-worker"
// subcommand that ExecSpawner re-invokes; the parent's Dispatcher is the
// only intended reader of w.
func RunChild(ctx context.Context, r io.Reader, w io.Writer, gen Generator) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return writeResponse(w, Response{Success: false, Error: fmt.Sprintf("reading request: %v", err)})
		}
		return writeResponse(w, Response{Success: false, Error: "no request received on stdin"})
	}

	var req Request
	if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
		return writeResponse(w, Response{Success: false, Error: fmt.Sprintf("parsing request: %v", err)})
	}
	if req.Action != "generate" {
		return writeResponse(w, Response{Success: false, Error: fmt.Sprintf("unsupported action %q", req.Action)})
	}

	rec, err := gen.Generate(ctx, req.Name)
	if err != nil {
		return writeResponse(w, Response{Success: false, Error: err.Error()})
	}

	return writeResponse(w, Response{
		Success:     true,
		Bytes:       rec.Bytes,
		ContentType: rec.ContentType,
		ImageType:   rec.ImageType,
		CRC32:       rec.CRC32,
		Duration:    rec.GenerationDuration,
		EventCount:  rec.EventCount,
	})
}

func writeResponse(w io.Writer, resp Response) error {
	return json.NewEncoder(w).Encode(resp)
}
