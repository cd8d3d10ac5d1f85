package stream

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/MrSnakeDoc/chiron/internal/errs"
	"github.com/MrSnakeDoc/chiron/internal/service"
)

const maxEventBytes = 4 << 20

// SSEDialer opens a text/event-stream over a plain GET. The HTTP client must
// not carry a request timeout, or long-lived streams get cut.
type SSEDialer struct {
	Client service.HTTPClient
	URL    string
}

func (d *SSEDialer) Dial(ctx context.Context) (Conn, error) {
	resp, err := service.Get(ctx, d.Client, d.URL, "text/event-stream")
	if err != nil {
		return nil, errs.New(errs.StreamFault, "open stream", err)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "" && !strings.HasPrefix(ct, "text/event-stream") {
		_ = resp.Body.Close()
		return nil, errs.New(errs.StreamFault, "open stream", fmt.Errorf("unexpected content type %q", ct))
	}
	return newSSEConn(resp.Body), nil
}

type sseConn struct {
	body io.ReadCloser
	r    *bufio.Reader
}

func newSSEConn(body io.ReadCloser) *sseConn {
	return &sseConn{body: body, r: bufio.NewReader(body)}
}

// Next returns the data of the next unnamed or "message" event. Multi-line
// data is joined with "\n". Comments and the id and retry fields are skipped,
// and events with any other type are dropped.
func (c *sseConn) Next(ctx context.Context) ([]byte, error) {
	var (
		data      bytes.Buffer
		hasData   bool
		eventType string
	)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		line, err := c.readLine()
		if err != nil {
			if errors.Is(err, io.EOF) && line == "" {
				return nil, io.EOF
			}
			if !errors.Is(err, io.EOF) {
				return nil, err
			}
		}
		line = strings.TrimRight(line, "\r\n")

		if line == "" {
			if hasData && (eventType == "" || eventType == "message") {
				return data.Bytes(), nil
			}
			if err != nil {
				return nil, io.EOF
			}
			data.Reset()
			hasData = false
			eventType = ""
			continue
		}

		field, value, found := strings.Cut(line, ":")
		if field == "" {
			continue // comment
		}
		if found {
			value = strings.TrimPrefix(value, " ")
		}

		switch field {
		case "event":
			eventType = value
		case "data":
			if hasData {
				data.WriteByte('\n')
			}
			data.WriteString(value)
			hasData = true
			if data.Len() > maxEventBytes {
				return nil, fmt.Errorf("event exceeds %d bytes", maxEventBytes)
			}
		}

		if err != nil {
			// Stream ended mid-event; the partial event is discarded.
			return nil, io.EOF
		}
	}
}

// readLine reads up to and including the next newline, failing once the
// line grows past maxEventBytes instead of buffering it whole.
func (c *sseConn) readLine() (string, error) {
	var line []byte
	for {
		chunk, err := c.r.ReadSlice('\n')
		if len(line)+len(chunk) > maxEventBytes {
			return "", fmt.Errorf("line exceeds %d bytes", maxEventBytes)
		}
		line = append(line, chunk...)
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		return string(line), err
	}
}

func (c *sseConn) Close() error { return c.body.Close() }
