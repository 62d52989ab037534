package replproto_test

import (
	"bytes"
	"testing"

	"github.com/xufuture/qserv-sub001/replproto"
)

func TestWriteReadMessageRoundTrip(t *testing.T) {
	req := replproto.ReplicateRequest{
		ID:       replproto.NewRequestID(),
		Priority: 3,
		Database: "sdss_stripe82",
		Chunk:    1234,
	}
	header := replproto.Header{Type: replproto.Replicate}

	var buf bytes.Buffer
	if err := replproto.WriteMessage(&buf, header, req); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}

	var got replproto.ReplicateRequest
	gotHeader, err := replproto.ReadMessage(&buf, &got)
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if gotHeader != header {
		t.Fatalf("header = %+v, want %+v", gotHeader, header)
	}
	if got != req {
		t.Fatalf("payload = %+v, want %+v", got, req)
	}
}

func TestWriteReadMessageNilPayload(t *testing.T) {
	header := replproto.Header{Type: replproto.Stop, SubType: replproto.Replicate}

	var buf bytes.Buffer
	if err := replproto.WriteMessage(&buf, header, nil); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}
	gotHeader, err := replproto.ReadMessage(&buf, nil)
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if gotHeader != header {
		t.Fatalf("header = %+v, want %+v", gotHeader, header)
	}
}

func TestWriteReadMessageMultipleFrames(t *testing.T) {
	var buf bytes.Buffer
	h1 := replproto.Header{Type: replproto.Replicate}
	h2 := replproto.Header{Type: replproto.FindAll}
	r1 := replproto.ReplicateRequest{ID: replproto.NewRequestID(), Priority: 1, Database: "a", Chunk: 1}
	r2 := replproto.FindAllRequest{ID: replproto.NewRequestID(), Priority: 2, Database: "b"}

	if err := replproto.WriteMessage(&buf, h1, r1); err != nil {
		t.Fatalf("WriteMessage 1: %v", err)
	}
	if err := replproto.WriteMessage(&buf, h2, r2); err != nil {
		t.Fatalf("WriteMessage 2: %v", err)
	}

	var got1 replproto.ReplicateRequest
	gotH1, err := replproto.ReadMessage(&buf, &got1)
	if err != nil {
		t.Fatalf("ReadMessage 1: %v", err)
	}
	if gotH1 != h1 || got1 != r1 {
		t.Fatalf("frame 1 mismatch: header %+v payload %+v", gotH1, got1)
	}

	var got2 replproto.FindAllRequest
	gotH2, err := replproto.ReadMessage(&buf, &got2)
	if err != nil {
		t.Fatalf("ReadMessage 2: %v", err)
	}
	if gotH2 != h2 || got2 != r2 {
		t.Fatalf("frame 2 mismatch: header %+v payload %+v", gotH2, got2)
	}
}

func TestWorkerStatusToExtState(t *testing.T) {
	cases := []struct {
		status   replproto.WorkerStatus
		wantExt  replproto.ExtState
		terminal bool
	}{
		{replproto.WorkerStatusQueued, replproto.ExtServerQueued, false},
		{replproto.WorkerStatusInProgress, replproto.ExtServerInProgress, false},
		{replproto.WorkerStatusIsCancelling, replproto.ExtServerIsCancelling, false},
		{replproto.WorkerStatusCancelled, replproto.ExtServerCancelled, true},
		{replproto.WorkerStatusSucceeded, replproto.ExtSuccess, true},
		{replproto.WorkerStatusFailed, replproto.ExtServerError, true},
		{replproto.WorkerStatusBad, replproto.ExtServerBad, true},
	}
	for _, c := range cases {
		if got := c.status.ToExtState(); got != c.wantExt {
			t.Errorf("%v.ToExtState() = %v, want %v", c.status, got, c.wantExt)
		}
		if got := c.status.IsTerminal(); got != c.terminal {
			t.Errorf("%v.IsTerminal() = %v, want %v", c.status, got, c.terminal)
		}
	}
}

func TestRequestIDIsUnique(t *testing.T) {
	a, b := replproto.NewRequestID(), replproto.NewRequestID()
	if a == b {
		t.Fatal("NewRequestID produced two identical ids")
	}
	if len(a.String()) == 0 {
		t.Fatal("NewRequestID produced an empty id")
	}
}
