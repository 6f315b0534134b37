package sse

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestSubscribeUnsubscribe(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()
	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients")
	}
	ch := b.Subscribe()
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client")
	}
	b.Unsubscribe(ch)
	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients after unsub")
	}
}

func TestPublishDelivery(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	b.Publish(Event{Type: "backup.created", Data: map[string]string{"path": "a.gcb"}})

	select {
	case msg := <-ch:
		s := string(msg)
		if !strings.Contains(s, "event: backup.created") {
			t.Errorf("missing event type in %q", s)
		}
		if !strings.Contains(s, `"path":"a.gcb"`) {
			t.Errorf("missing data in %q", s)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message")
	}
}

// drain collects every message currently buffered on ch.
func drain(ch chan []byte) []string {
	var out []string
	for {
		select {
		case msg := <-ch:
			out = append(out, string(msg))
		default:
			return out
		}
	}
}

func TestPublishBackupEvent_CatalogThrottle(t *testing.T) {
	b := NewBroker(500 * time.Millisecond)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	// First event triggers catalog.updated; the second one inside the window does not.
	b.PublishBackupEvent("created", "a.gcb")
	b.PublishBackupEvent("deleted", "b.gcb")

	time.Sleep(50 * time.Millisecond)
	catalogCount, backupCount := 0, 0
	for _, s := range drain(ch) {
		if strings.Contains(s, "catalog.updated") {
			catalogCount++
		} else {
			backupCount++
		}
	}

	if backupCount != 2 {
		t.Errorf("backup events = %d, want 2", backupCount)
	}
	if catalogCount != 1 {
		t.Errorf("catalog events = %d, want 1 (throttled)", catalogCount)
	}
}

func TestPublishActivity_MetricsThrottle(t *testing.T) {
	b := NewBroker(500 * time.Millisecond)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	b.PublishActivity("alice", "license.issued", map[string]any{"license_id": "lic-1"})
	b.PublishActivity("alice", "license.issued", map[string]any{"license_id": "lic-2"})

	time.Sleep(50 * time.Millisecond)
	metricsCount, activityCount := 0, 0
	for _, s := range drain(ch) {
		switch {
		case strings.Contains(s, "event: metrics.updated"):
			metricsCount++
		case strings.Contains(s, "event: license.issued"):
			activityCount++
			if !strings.Contains(s, `"actor":"alice"`) {
				t.Errorf("missing actor in %q", s)
			}
		}
	}
	if activityCount != 2 {
		t.Errorf("activity events = %d, want 2", activityCount)
	}
	if metricsCount != 1 {
		t.Errorf("metrics events = %d, want 1 (throttled)", metricsCount)
	}
}

func TestSSEHandler(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req := httptest.NewRequest(http.MethodGet, "/api/events", nil)
	req = req.WithContext(ctx)
	w := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		b.ServeHTTP(w, req)
		close(done)
	}()

	// Give handler time to subscribe.
	time.Sleep(50 * time.Millisecond)
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client from handler")
	}

	b.Publish(Event{Type: "backup.updated", Data: map[string]string{"path": "x.gcb"}})
	time.Sleep(50 * time.Millisecond)

	cancel()
	<-done

	body := w.Body.String()
	if !strings.Contains(body, "event: backup.updated") {
		t.Errorf("handler output missing event: %q", body)
	}

	time.Sleep(50 * time.Millisecond)
	if b.ClientCount() != 0 {
		t.Errorf("client not cleaned up after disconnect")
	}
}

func TestPublishDropsOnFullBuffer(t *testing.T) {
	b := NewBroker(time.Second)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	// Fill buffer (capacity 64) and then some; must not block.
	for i := 0; i < 70; i++ {
		b.Publish(Event{Type: "test", Data: map[string]string{"i": "x"}})
	}
}

func TestCloseClosesSubscribersAndStopsOperations(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	ch := b.Subscribe()
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client")
	}

	b.Close()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected subscriber channel to be closed")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for channel close")
	}

	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients after close")
	}

	// Safe no-ops after close.
	b.Publish(Event{Type: "backup.updated", Data: map[string]string{"path": "x.gcb"}})
	b.PublishBackupEvent("updated", "x.gcb")
	b.PublishActivity("x", "license.issued", nil)
}
