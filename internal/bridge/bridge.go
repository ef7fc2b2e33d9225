// Package bridge performs request/response exchanges with the external
// document processing service over a message-oriented WebSocket connection.
// Every exchange dials a fresh connection, sends its frames, waits for
// exactly one response, and closes; nothing is pooled or shared.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/gorilla/websocket"
)

// Exchange outcomes for failed exchanges. Callers map these to the fixed
// user-visible diagnostics via Diagnostic.
var (
	ErrTimeout     = errors.New("bridge exchange timed out")
	ErrUnreachable = errors.New("bridge unreachable")
)

// Fixed diagnostic strings surfaced in place of an answer when an exchange
// fails. Kept verbatim from the legacy client so stored conversations stay
// consistent across versions.
const (
	TimeoutDiagnostic     = "Timeout waiting for Python RAG response"
	UnreachableDiagnostic = "Error connecting to Python server"
)

const (
	// DefaultUploadTimeout is minutes-scale: ingesting a fresh document is
	// expected to be slow downstream.
	DefaultUploadTimeout = 5 * time.Minute
	// DefaultQueryTimeout is shorter: querying an already-ingested
	// document is faster.
	DefaultQueryTimeout = 3 * time.Minute
)

type fileMeta struct {
	Type     string `json:"type"`
	Filename string `json:"filename"`
	Size     int64  `json:"size"`
	Query    string `json:"query"`
}

type queryRequest struct {
	Type     string `json:"type"`
	Question string `json:"question"`
	Role     string `json:"role"`
	Filename string `json:"filename"`
}

// response covers every historical shape the processing service has used.
type response struct {
	Type        string `json:"type"`
	Message     string `json:"message"`
	Answer      string `json:"answer"`
	Status      string `json:"status"`
	RagResponse string `json:"rag_response"`
}

// Client dials the document processing service.
type Client struct {
	url           string
	uploadTimeout time.Duration
	queryTimeout  time.Duration
	dialer        *websocket.Dialer
}

// New builds a bridge client for the given ws:// or wss:// URL.
// Non-positive timeouts fall back to the defaults.
func New(url string, uploadTimeout, queryTimeout time.Duration) *Client {
	if uploadTimeout <= 0 {
		uploadTimeout = DefaultUploadTimeout
	}
	if queryTimeout <= 0 {
		queryTimeout = DefaultQueryTimeout
	}
	return &Client{
		url:           url,
		uploadTimeout: uploadTimeout,
		queryTimeout:  queryTimeout,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 30 * time.Second,
		},
	}
}

// Upload sends file metadata followed by the raw bytes as one binary frame
// and waits for the single acknowledgement message.
func (c *Client) Upload(ctx context.Context, filename string, size int64, query string, data []byte) (string, error) {
	return c.exchange(ctx, c.uploadTimeout, func(conn *websocket.Conn) error {
		meta := fileMeta{Type: "file_meta", Filename: filename, Size: size, Query: query}
		if err := conn.WriteJSON(meta); err != nil {
			return err
		}
		return conn.WriteMessage(websocket.BinaryMessage, data)
	})
}

// Query asks a question about a previously uploaded file and waits for the
// single answer message.
func (c *Client) Query(ctx context.Context, question, role, filename string) (string, error) {
	return c.exchange(ctx, c.queryTimeout, func(conn *websocket.Conn) error {
		req := queryRequest{Type: "query", Question: question, Role: role, Filename: filename}
		return conn.WriteJSON(req)
	})
}

// exchange runs one connect/send/receive/close cycle. The deadline is
// armed at connection open; if it fires before the response frame arrives
// the connection is force-closed and the exchange resolves as a timeout.
// A response arriving after that is discarded along with the connection.
func (c *Client) exchange(ctx context.Context, timeout time.Duration, send func(*websocket.Conn) error) (string, error) {
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	conn, _, err := c.dialer.DialContext(dialCtx, c.url, nil)
	if err != nil {
		return "", classify(err)
	}
	defer conn.Close()

	deadline := time.Now().Add(timeout)
	_ = conn.SetReadDeadline(deadline)
	_ = conn.SetWriteDeadline(deadline)

	if err := send(conn); err != nil {
		return "", classify(err)
	}
	_, payload, err := conn.ReadMessage()
	if err != nil {
		return "", classify(err)
	}
	return decodeResult(payload), nil
}

// classify maps transport errors onto the two terminal exchange outcomes.
func classify(err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrUnreachable, err)
}

// Diagnostic returns the fixed fallback text for a failed exchange.
func Diagnostic(err error) string {
	if errors.Is(err, ErrTimeout) {
		return TimeoutDiagnostic
	}
	return UnreachableDiagnostic
}

// decodeResult extracts the answer text from a response payload. Known
// shapes are tried in a fixed priority order; anything unparseable is used
// verbatim rather than dropped:
//
//  1. typed: {type:"status", message} or {type:"answer", answer}
//  2. legacy: {rag_response} (with or without {status})
//  3. legacy: {status, message}
//  4. the raw payload
func decodeResult(payload []byte) string {
	var r response
	if err := json.Unmarshal(payload, &r); err != nil {
		return string(payload)
	}
	switch r.Type {
	case "status":
		if r.Message != "" {
			return r.Message
		}
	case "answer":
		if r.Answer != "" {
			return r.Answer
		}
	}
	if r.RagResponse != "" {
		return r.RagResponse
	}
	if r.Status != "" && r.Message != "" {
		return r.Message
	}
	return string(payload)
}
