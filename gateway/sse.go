package gateway

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	shardErrors "github.com/sweetpotato0/shard/errors"
	"github.com/tidwall/gjson"
)

const (
	maxLineSize   = 4 << 20
	maxErrorBody  = 64 << 10
	logPayloadCap = 256
)

var doneMarker = []byte("[DONE]")

// decodeFunc turns one SSE data payload into a delta. A nil delta with a nil
// error is a valid chunk carrying nothing. An *UpstreamError aborts the
// stream; any other error marks the chunk malformed.
type decodeFunc func(data []byte) (*Delta, error)

// send performs req and maps transport failures and non-2xx responses to
// *UpstreamError.
func send(client *http.Client, backend string, req *http.Request) (*http.Response, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, &UpstreamError{Backend: backend, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		msg := gjson.GetBytes(body, "error.message").String()
		if msg == "" {
			msg = strings.TrimSpace(string(body))
		}
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return nil, &UpstreamError{Backend: backend, Status: resp.StatusCode, Message: msg}
	}
	return resp, nil
}

// readEvents parses an SSE body, yielding decoded deltas in upstream order
// followed by exactly one Final delta. Malformed chunks are logged and
// skipped; if the body closes without a single valid chunk the stream ends
// with *UpstreamError instead.
func readEvents(ctx context.Context, backend string, body io.ReadCloser, decode decodeFunc, logger *slog.Logger, yield func(*Delta, error) bool) {
	defer body.Close()

	var (
		valid, malformed int
		data             bytes.Buffer
		done             bool
	)

	// dispatch returns false when the consumer stopped or the stream aborted.
	dispatch := func() bool {
		if data.Len() == 0 {
			return true
		}
		payload := bytes.TrimSpace(data.Bytes())
		defer data.Reset()
		if bytes.Equal(payload, doneMarker) {
			done = true
			return true
		}
		d, err := decode(payload)
		if err != nil {
			var upstream *UpstreamError
			if errors.As(err, &upstream) {
				yield(nil, upstream)
				return false
			}
			malformed++
			logger.Warn("skipping malformed chunk", "backend", backend, "error", err, "payload", truncate(payload))
			return true
		}
		valid++
		if d == nil || d.Empty() {
			return true
		}
		return yield(d, nil)
	}

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64<<10), maxLineSize)
	for !done && scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		switch {
		case line == "":
			if !dispatch() {
				return
			}
		case strings.HasPrefix(line, ":"):
			// comment / keep-alive
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		default:
			// event:, id:, retry: carry nothing the codecs need
		}
	}
	if !done && !dispatch() {
		return
	}

	if err := scanner.Err(); err != nil && !done {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		}
		yield(nil, &UpstreamError{Backend: backend, Err: fmt.Errorf("read stream: %w", err)})
		return
	}
	if valid == 0 {
		err := errors.New("stream closed before any content")
		if malformed > 0 {
			err = fmt.Errorf("%w: %d chunk(s) received, none parseable", shardErrors.ErrMalformedChunk, malformed)
		}
		yield(nil, &UpstreamError{Backend: backend, Err: err})
		return
	}
	yield(&Delta{Final: true}, nil)
}

// malformed wraps a decode problem so it reads well in logs.
func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", shardErrors.ErrMalformedChunk, fmt.Sprintf(format, args...))
}

func truncate(b []byte) string {
	if len(b) <= logPayloadCap {
		return string(b)
	}
	return string(b[:logPayloadCap]) + "..."
}
