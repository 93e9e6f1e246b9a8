package daemon

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/omnitak/takcore/internal/bus"
	"github.com/omnitak/takcore/internal/cot"
	"github.com/omnitak/takcore/internal/engine"
	"github.com/omnitak/takcore/internal/queue"
	"github.com/omnitak/takcore/internal/status"
	"github.com/omnitak/takcore/internal/store"
	"go.uber.org/zap"
)

func testServer(t *testing.T) (*Server, string) {
	t.Helper()
	// Short base path to stay under the Unix socket length limit.
	tmpDir, err := os.MkdirTemp("/tmp", "takcore-*")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(tmpDir) })

	db, err := store.Open(filepath.Join(tmpDir, "takcore.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })

	b := bus.New()
	q, err := queue.New(queue.Config{ArchiveDir: filepath.Join(tmpDir, "archive")}, db, b, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	eng := engine.New(engine.Options{
		Self: cot.Identity{UID: "TAKCORE-test", Callsign: "HAWK"},
	}, &cot.Decoder{}, q, b, zap.NewNop())

	socketPath := filepath.Join(tmpDir, "d.sock")
	srv, err := NewServer(Params{Profile: "test", SocketPath: socketPath}, zap.NewNop(), eng, q, b, 0)
	if err != nil {
		t.Fatal(err)
	}
	go func() { _ = srv.Start() }()
	t.Cleanup(func() { srv.Stop(context.Background()) })

	waitForSocket(t, socketPath)
	return srv, socketPath
}

func waitForSocket(t *testing.T, path string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(path); err == nil {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("socket %s never appeared", path)
}

func TestSendAndQueryOverSocket(t *testing.T) {
	_, socketPath := testServer(t)

	c, err := Dial(socketPath)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = c.Close() }()

	resp, err := c.Do(Request{Op: OpSend, Text: "check in"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if resp.Message == nil || resp.Message.Status != status.Pending {
		t.Fatalf("message = %+v", resp.Message)
	}
	uid := resp.Message.ID

	resp, err = c.Do(Request{Op: OpQuery, Status: string(status.Pending)})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(resp.Messages) != 1 {
		t.Fatalf("got %d pending messages, want 1", len(resp.Messages))
	}
	if resp.Messages[0].UID != uid {
		t.Fatalf("uid mismatch: %q vs %q", resp.Messages[0].UID, uid)
	}

	resp, err = c.Do(Request{Op: OpStats})
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if resp.Stats.PendingMessages != 1 || resp.Stats.WorkingSet != 1 {
		t.Fatalf("stats = %+v", resp.Stats)
	}
}

func TestIngestOverSocket(t *testing.T) {
	_, socketPath := testServer(t)

	raw, _, err := cot.EncodeChat(cot.SendRequest{
		Sender: cot.Identity{UID: "ANDROID-peer", Callsign: "VIPER"},
		Text:   "inbound over the wire",
	})
	if err != nil {
		t.Fatal(err)
	}

	c, err := Dial(socketPath)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = c.Close() }()

	resp, err := c.Do(Request{Op: OpIngest, XML: string(raw)})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if resp.Message == nil || resp.Message.SenderCallsign != "VIPER" {
		t.Fatalf("message = %+v", resp.Message)
	}

	// Malformed XML comes back as a protocol error, not a dropped conn.
	if _, err := c.Do(Request{Op: OpIngest, XML: "<event><broken"}); err == nil {
		t.Fatal("malformed ingest should error")
	}
	if _, err := c.Do(Request{Op: OpStats}); err != nil {
		t.Fatalf("connection unusable after error: %v", err)
	}
}

func TestReportDeliveryOverSocket(t *testing.T) {
	_, socketPath := testServer(t)

	c, err := Dial(socketPath)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = c.Close() }()

	resp, err := c.Do(Request{Op: OpSend, Text: "outbound"})
	if err != nil {
		t.Fatal(err)
	}
	uid := resp.Message.ID

	if _, err := c.Do(Request{Op: OpReport, UID: uid, Delivered: true}); err != nil {
		t.Fatalf("report: %v", err)
	}

	resp, err = c.Do(Request{Op: OpQuery, Status: string(status.Sent)})
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Messages) != 1 || resp.Messages[0].UID != uid {
		t.Fatalf("sent messages = %+v", resp.Messages)
	}
}

func TestRetryRequiresTransport(t *testing.T) {
	_, socketPath := testServer(t)

	c, err := Dial(socketPath)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = c.Close() }()

	if _, err := c.Do(Request{Op: OpRetry}); err == nil {
		t.Fatal("retry without a transport should error")
	}
}

func TestAttachDrainsOfflineQueue(t *testing.T) {
	_, socketPath := testServer(t)

	// Queue a message while no transport is attached.
	ctl, err := Dial(socketPath)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = ctl.Close() }()

	resp, err := ctl.Do(Request{Op: OpSend, Text: "queued offline"})
	if err != nil {
		t.Fatal(err)
	}
	uid := resp.Message.ID

	// Attach a transport; the backlog must be pushed through it.
	tr, err := Dial(socketPath)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = tr.Close() }()
	if err := tr.Attach(); err != nil {
		t.Fatalf("attach: %v", err)
	}

	frame, err := tr.NextFrame()
	if err != nil {
		t.Fatalf("next frame: %v", err)
	}
	if frame.XML == "" {
		t.Fatal("empty frame")
	}
	if err := tr.Ack(frame.UID, true, ""); err != nil {
		t.Fatal(err)
	}

	// The acked message must leave pending.
	deadline := time.Now().Add(2 * time.Second)
	for {
		resp, err = ctl.Do(Request{Op: OpQuery, Status: string(status.Sent)})
		if err != nil {
			t.Fatal(err)
		}
		if len(resp.Messages) == 1 && resp.Messages[0].UID == uid {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("message never reached sent: %+v", resp.Messages)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestLiveFrameBridging(t *testing.T) {
	_, socketPath := testServer(t)

	tr, err := Dial(socketPath)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = tr.Close() }()
	if err := tr.Attach(); err != nil {
		t.Fatal(err)
	}

	ctl, err := Dial(socketPath)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = ctl.Close() }()

	resp, err := ctl.Do(Request{Op: OpSend, Text: "live"})
	if err != nil {
		t.Fatal(err)
	}

	frame, err := tr.NextFrame()
	if err != nil {
		t.Fatal(err)
	}
	if frame.UID != resp.Message.ID {
		t.Fatalf("frame uid = %q, want %q", frame.UID, resp.Message.ID)
	}
	if err := tr.Ack(frame.UID, false, "radio silence"); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		r, err := ctl.Do(Request{Op: OpQuery, Status: string(status.Failed)})
		if err != nil {
			t.Fatal(err)
		}
		if len(r.Messages) == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("nacked frame never reached failed")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestSecondAttachRejected(t *testing.T) {
	_, socketPath := testServer(t)

	first, err := Dial(socketPath)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = first.Close() }()
	if err := first.Attach(); err != nil {
		t.Fatal(err)
	}

	second, err := Dial(socketPath)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = second.Close() }()
	if err := second.Attach(); err == nil {
		t.Fatal("second attach should be rejected")
	}
}
