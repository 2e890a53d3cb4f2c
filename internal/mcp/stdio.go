package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/artisan-mcp/artisan-mcp/internal/gateway"
)

const maxMessageBytes = 1024 * 1024

// ServeStdio reads newline-delimited JSON-RPC messages from r and writes
// responses to w, one per line. A message over 1 MiB is answered with an
// Invalid Request error and skipped. Each request is handled on its own
// goroutine; writes are serialized. It returns nil on EOF or when ctx is
// done, after in-flight requests have finished.
func (s *Server) ServeStdio(ctx context.Context, r io.Reader, w io.Writer) error {
	ctx = gateway.WithSource(ctx, "stdio")

	lines := make(chan stdioLine)
	readErr := make(chan error, 1)
	go func() {
		defer close(lines)
		br := bufio.NewReaderSize(r, 64*1024)
		for {
			msg, tooLarge, err := readMessage(br, maxMessageBytes)
			if err != nil {
				if errors.Is(err, io.EOF) {
					err = nil
				}
				readErr <- err
				return
			}
			line := stdioLine{msg: bytes.TrimSpace(msg), tooLarge: tooLarge}
			if len(line.msg) == 0 && !tooLarge {
				continue
			}
			select {
			case lines <- line:
			case <-ctx.Done():
				readErr <- nil
				return
			}
		}
	}()

	var (
		wg       sync.WaitGroup
		writeMu  sync.Mutex
		writeErr error
	)
	write := func(b []byte) {
		writeMu.Lock()
		defer writeMu.Unlock()
		if writeErr != nil {
			return
		}
		if _, err := w.Write(append(b, '\n')); err != nil {
			writeErr = err
			slog.Error("mcp stdio write failed", "error", err)
		}
	}
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				wg.Wait()
				if err := <-readErr; err != nil {
					return fmt.Errorf("read stdin: %w", err)
				}
				slog.Info("mcp stdio closed")
				return writeErr
			}
			if line.tooLarge {
				slog.Warn("mcp stdio message too large", "limit_bytes", maxMessageBytes)
				b, _ := json.Marshal(errorResponse(nil, CodeInvalidRequest, "request too large"))
				write(b)
				continue
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				if resp := s.HandleMessage(ctx, line.msg); resp != nil {
					write(resp)
				}
			}()
		}
	}
}

type stdioLine struct {
	msg      []byte
	tooLarge bool
}

// readMessage returns the next newline-terminated message. A message longer
// than limit is drained up to its newline and reported as tooLarge with no
// content. A final line without a newline is returned before io.EOF.
func readMessage(br *bufio.Reader, limit int) (msg []byte, tooLarge bool, _ error) {
	read := false
	for {
		chunk, err := br.ReadSlice('\n')
		read = read || len(chunk) > 0
		if !tooLarge {
			if len(bytes.TrimRight(msg, "\r\n"))+len(bytes.TrimRight(chunk, "\r\n")) > limit {
				tooLarge = true
				msg = nil
			} else {
				msg = append(msg, chunk...)
			}
		}
		switch {
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case err == nil:
			return msg, tooLarge, nil
		case errors.Is(err, io.EOF) && read:
			return msg, tooLarge, nil
		default:
			return nil, false, err
		}
	}
}
