package ws

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"policylink.ai/internal/protocol"
)

const testHorizon = 4

func testLogger() *log.Logger { return log.New(io.Discard, "", 0) }

func testRequest(step uint64) protocol.InferRequest {
	return protocol.InferRequest{
		Type:            protocol.TypeInfer,
		ProtocolVersion: protocol.Version,
		Step:            step,
		Video:           protocol.Uint8Tensor([]int{2, 2, 3}, make([]byte, 12)),
		State: map[string]protocol.Tensor{
			"left_arm": protocol.Float64Tensor([]int{1, 7}, make([]float64, 7)),
		},
		TaskDescription: "test",
	}
}

func testResponse(step uint64) protocol.InferResponse {
	row := make([]float64, testHorizon*7)
	return protocol.InferResponse{
		Type:            protocol.TypeActions,
		ProtocolVersion: protocol.Version,
		Step:            step,
		Action: map[string]protocol.Tensor{
			"left_arm": protocol.Float32Tensor([]int{testHorizon, 7}, row),
		},
		InferenceTimeMS: 1.5,
	}
}

func startServer(t *testing.T, h Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := NewServer(h, testLogger())
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	url := "ws" + strings.TrimPrefix(ts.URL, "http")
	c := NewClient(url, ClientOptions{Horizon: testHorizon, Timeout: 2 * time.Second, RetryBackoff: 10 * time.Millisecond}, testLogger())
	t.Cleanup(func() { _ = c.Close() })
	return c, ts
}

func TestClientServer_RoundTrip(t *testing.T) {
	c, _ := startServer(t, func(ctx context.Context, req protocol.InferRequest) (protocol.InferResponse, error) {
		return testResponse(req.Step), nil
	})

	for step := uint64(1); step <= 3; step++ {
		resp, err := c.Infer(context.Background(), testRequest(step))
		if err != nil {
			t.Fatalf("step %d: %v", step, err)
		}
		if resp.Step != step {
			t.Fatalf("step %d: got response for %d", step, resp.Step)
		}
		if resp.Action["left_arm"].Shape[0] != testHorizon {
			t.Fatalf("bad action shape %v", resp.Action["left_arm"].Shape)
		}
	}
}

func TestClientServer_HandlerErrorBecomesRemote(t *testing.T) {
	c, _ := startServer(t, func(ctx context.Context, req protocol.InferRequest) (protocol.InferResponse, error) {
		return protocol.InferResponse{}, fmt.Errorf("%s: limb mismatch", protocol.ErrBadShape)
	})

	_, err := c.Infer(context.Background(), testRequest(1))
	var remote *RemoteError
	if !errors.As(err, &remote) {
		t.Fatalf("want RemoteError, got %v", err)
	}
	if remote.Code != protocol.ErrBadShape {
		t.Fatalf("code = %s, want %s", remote.Code, protocol.ErrBadShape)
	}

	// The connection stays open for the next request.
	c2, _ := startServer(t, func(ctx context.Context, req protocol.InferRequest) (protocol.InferResponse, error) {
		return protocol.InferResponse{}, errors.New("cuda fell over")
	})
	_, err = c2.Infer(context.Background(), testRequest(1))
	if !errors.As(err, &remote) || remote.Code != protocol.ErrInternal {
		t.Fatalf("uncoded handler error should map to %s, got %v", protocol.ErrInternal, err)
	}
}

func TestClientServer_NoRetryOnRemoteError(t *testing.T) {
	var calls atomic.Int64
	c, _ := startServer(t, func(ctx context.Context, req protocol.InferRequest) (protocol.InferResponse, error) {
		calls.Add(1)
		return protocol.InferResponse{}, fmt.Errorf("%s: boom", protocol.ErrInference)
	})

	_, err := c.Infer(context.Background(), testRequest(1))
	var remote *RemoteError
	if !errors.As(err, &remote) {
		t.Fatalf("want RemoteError, got %v", err)
	}
	if n := calls.Load(); n != 1 {
		t.Fatalf("handler called %d times, want 1", n)
	}
}

func TestClient_RetriesOnceAfterDrop(t *testing.T) {
	var calls atomic.Int64
	c, ts := startServer(t, func(ctx context.Context, req protocol.InferRequest) (protocol.InferResponse, error) {
		calls.Add(1)
		return testResponse(req.Step), nil
	})

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	// Kill every established connection; the next exchange fails and the
	// client must reconnect and resend exactly once.
	ts.CloseClientConnections()

	resp, err := c.Infer(context.Background(), testRequest(7))
	if err != nil {
		t.Fatalf("infer after drop: %v", err)
	}
	if resp.Step != 7 {
		t.Fatalf("resp step = %d", resp.Step)
	}
	if n := calls.Load(); n != 1 {
		t.Fatalf("handler called %d times, want 1", n)
	}
}

func TestClient_PropagatesWhenServerGone(t *testing.T) {
	c, ts := startServer(t, func(ctx context.Context, req protocol.InferRequest) (protocol.InferResponse, error) {
		return testResponse(req.Step), nil
	})
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	ts.Close()

	_, err := c.Infer(context.Background(), testRequest(1))
	if err == nil {
		t.Fatal("want transport error after server shutdown")
	}
	var remote *RemoteError
	if errors.As(err, &remote) {
		t.Fatalf("transport failure must not look like a server error: %v", err)
	}
}

func TestServer_RejectsMalformedRequest(t *testing.T) {
	c, _ := startServer(t, func(ctx context.Context, req protocol.InferRequest) (protocol.InferResponse, error) {
		t.Fatal("handler must not run for malformed input")
		return protocol.InferResponse{}, nil
	})

	req := testRequest(1)
	req.Video = protocol.Float64Tensor([]int{2, 2, 3}, make([]float64, 12))
	_, err := c.Infer(context.Background(), req)
	var remote *RemoteError
	if !errors.As(err, &remote) {
		t.Fatalf("want RemoteError, got %v", err)
	}
	if remote.Code != protocol.ErrBadDtype {
		t.Fatalf("code = %s, want %s", remote.Code, protocol.ErrBadDtype)
	}
}

func TestClient_SilentServerHitsTimeout(t *testing.T) {
	// Accepts the websocket and swallows every message without answering.
	up := websocket.Upgrader{}
	ts := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(ts.Close)

	url := "ws" + strings.TrimPrefix(ts.URL, "http")
	c := NewClient(url, ClientOptions{Horizon: testHorizon, Timeout: 50 * time.Millisecond, RetryBackoff: 10 * time.Millisecond}, testLogger())
	t.Cleanup(func() { _ = c.Close() })

	_, err := c.Infer(context.Background(), testRequest(1))
	if err == nil {
		t.Fatal("want timeout error")
	}
	var remote *RemoteError
	if errors.As(err, &remote) {
		t.Fatalf("timeout must surface as a transport error, got remote %v", remote)
	}
}

func TestCodeFromErr(t *testing.T) {
	if got := codeFromErr(fmt.Errorf("%s: nope", protocol.ErrBusy)); got != protocol.ErrBusy {
		t.Fatalf("got %s", got)
	}
	if got := codeFromErr(errors.New("plain failure")); got != protocol.ErrInternal {
		t.Fatalf("got %s", got)
	}
	if got := codeFromErr(errors.New("E_MADE_UP: nope")); got != protocol.ErrInternal {
		t.Fatalf("unknown code must map to internal, got %s", got)
	}
}
