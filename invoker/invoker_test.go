package invoker

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/justapithecus/restwork/ids"
	"github.com/justapithecus/restwork/invocation"
	"github.com/justapithecus/restwork/leadership"
	"github.com/justapithecus/restwork/protocol"
)

type staticResolver struct{ endpoint string }

func (r staticResolver) ResolveEndpoint(service ids.ServiceID) (string, error) { return r.endpoint, nil }

func echoServer(t *testing.T) *httptest.Server {
	t.Helper()
	handler := func(w http.ResponseWriter, r *http.Request) {
		decoder := protocol.NewFrameDecoder(r.Body)
		if _, err := decoder.ReadFrame(); err != nil {
			return
		}
		frame, _ := protocol.EncodeMessage(&protocol.EntryMessage{Type: protocol.MessageKindEntry, Index: 0, Kind: "response", Payload: []byte("done")})
		w.Header().Set("Content-Type", "application/restate")
		w.Write(frame)
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
	}
	srv := httptest.NewServer(h2c.NewHandler(http.HandlerFunc(handler), &http2.Server{}))
	t.Cleanup(srv.Close)
	return srv
}

func TestHandle_InvokeReportsCompletion(t *testing.T) {
	srv := echoServer(t)
	h := New(staticResolver{endpoint: srv.URL}, nil, nil, nil)
	h.cfg = invocation.Config{RequestTimeout: 2 * time.Second}

	if err := h.Invoke(context.Background(), leadership.InvocationTarget{InvocationID: "inv-1", Service: "greeter", Method: "Hello"}); err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}

	select {
	case e := <-h.ActionEffects():
		out, ok := e.Detail.(InvocationOutcome)
		if !ok || out.InvocationID != "inv-1" || out.Outcome.Kind != invocation.TerminalClosed {
			t.Fatalf("effect = %+v", e)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no effect received")
	}
}

func TestHandle_InvokeTwiceIsNoop(t *testing.T) {
	srv := echoServer(t)
	h := New(staticResolver{endpoint: srv.URL}, nil, nil, nil)
	h.cfg = invocation.Config{RequestTimeout: 2 * time.Second}

	target := leadership.InvocationTarget{InvocationID: "inv-1", Service: "greeter", Method: "Hello"}
	if err := h.Invoke(context.Background(), target); err != nil {
		t.Fatalf("first Invoke failed: %v", err)
	}
	if err := h.Invoke(context.Background(), target); err != nil {
		t.Fatalf("second Invoke failed: %v", err)
	}

	<-h.ActionEffects()
}

func TestHandle_Shutdown(t *testing.T) {
	h := New(staticResolver{endpoint: "http://unused"}, nil, nil, nil)
	if err := h.Shutdown(time.Second); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
}
