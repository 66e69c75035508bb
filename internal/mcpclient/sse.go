package mcpclient

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"switchboard/pkg/logging"
)

// maxEventSize bounds a single SSE line.
const maxEventSize = 4 << 20

// eventStreamTransport sits below the mcp-go transport. It applies the
// client's Accept preference, reports non-2xx answers as *TransportError and
// reduces an event-stream response to the one message whose id matches the
// request, hanging up as soon as it arrives. Bodies of any other content
// type are handed on as JSON.
type eventStreamTransport struct {
	next   http.RoundTripper
	accept string
}

func (t *eventStreamTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	next := t.next
	if next == nil {
		next = http.DefaultTransport
	}
	if req.Method != http.MethodPost {
		return next.RoundTrip(req)
	}

	out := req.Clone(req.Context())
	out.Header.Set("Accept", t.accept)

	resp, err := next.RoundTrip(out)
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &TransportError{StatusCode: resp.StatusCode, Body: string(bytes.TrimSpace(msg))}
	}

	id, ok := requestIDFromContext(req.Context())
	if !ok {
		// notification
		return resp, nil
	}
	if resp.StatusCode == http.StatusAccepted || resp.StatusCode == http.StatusNoContent {
		resp.Body.Close()
		return nil, &TransportError{StatusCode: resp.StatusCode, Err: fmt.Errorf("no response body for request %s", id)}
	}

	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if mediaType != "text/event-stream" {
		resp.Header.Set("Content-Type", "application/json")
		resp.Body = limitedBody{Reader: io.LimitReader(resp.Body, maxJSONBody), Closer: resp.Body}
		return resp, nil
	}

	payload, err := readEventStream(resp.Body, id)
	resp.Body.Close()
	if err != nil {
		return nil, err
	}
	resp.Header.Set("Content-Type", "application/json")
	resp.Header.Del("Content-Length")
	resp.Body = io.NopCloser(bytes.NewReader(payload))
	resp.ContentLength = int64(len(payload))
	return resp, nil
}

type limitedBody struct {
	io.Reader
	io.Closer
}

type streamMessage struct {
	ID     mcp.RequestId `json:"id"`
	Method string        `json:"method"`
}

// readEventStream reads SSE frames from r until a JSON-RPC response with the
// given id is found and returns that frame's data. Frames are separated by
// blank lines; the data lines of a frame are joined with newlines. Frames
// that are not JSON, notifications, server requests and responses to other
// requests are skipped.
func readEventStream(r io.Reader, id string) ([]byte, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxEventSize)

	var data []string
	dispatch := func() []byte {
		if len(data) == 0 {
			return nil
		}
		payload := strings.Join(data, "\n")
		data = data[:0]

		var msg streamMessage
		if err := json.Unmarshal([]byte(payload), &msg); err != nil {
			logging.Debug("MCPClient", "Skipping non-JSON event: %v", err)
			return nil
		}
		if msg.Method != "" {
			return nil
		}
		if got, _ := msg.ID.Value().(string); got != id {
			return nil
		}
		return []byte(payload)
	}

	for scanner.Scan() {
		line := strings.TrimSuffix(scanner.Text(), "\r")
		if line == "" {
			if payload := dispatch(); payload != nil {
				return payload, nil
			}
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}
		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		if field == "data" {
			data = append(data, value)
		}
		// event, id and retry fields do not affect correlation
	}
	if err := scanner.Err(); err != nil {
		return nil, &TransportError{Err: fmt.Errorf("reading event stream: %w", err)}
	}
	// a final frame may lack its trailing blank line
	if payload := dispatch(); payload != nil {
		return payload, nil
	}
	return nil, &TransportError{Err: ErrStreamEnded}
}
