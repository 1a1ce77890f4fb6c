package internal

import (
	"context"
	"encoding/json"
	"testing"
	"time"
)

func startHub(t *testing.T) (*Hub, *Metrics) {
	t.Helper()
	metrics := NewMetrics()
	hub := NewHub(metrics, nil)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-hub.Done()
	})
	return hub, metrics
}

func fakeClient(userID string, buffer int) *Client {
	return &Client{send: make(chan []byte, buffer), userID: userID}
}

func nextCount(t *testing.T, c *Client) int {
	t.Helper()
	select {
	case payload, ok := <-c.send:
		if !ok {
			t.Fatal("send channel closed")
		}
		var env Envelope
		if err := json.Unmarshal(payload, &env); err != nil {
			t.Fatalf("decode envelope: %v", err)
		}
		if env.Event != EventOnlineCount {
			t.Fatalf("event = %q, want %q", env.Event, EventOnlineCount)
		}
		var data CountData
		if err := json.Unmarshal(env.Data, &data); err != nil {
			t.Fatalf("decode data: %v", err)
		}
		return data.Count
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a count")
	}
	return -1
}

func expectQuiet(t *testing.T, c *Client) {
	t.Helper()
	select {
	case payload := <-c.send:
		t.Fatalf("unexpected message %s", payload)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHubSameUserCountsOnce(t *testing.T) {
	hub, metrics := startHub(t)
	watcher := fakeClient("", 8)
	a1 := fakeClient("a", 8)
	a2 := fakeClient("a", 8)

	hub.Register(watcher)
	if got := nextCount(t, watcher); got != 0 {
		t.Fatalf("anonymous join count = %d, want 0", got)
	}

	hub.Register(a1)
	if got := nextCount(t, watcher); got != 1 {
		t.Fatalf("count after a1 = %d, want 1", got)
	}
	hub.Register(a2)
	if got := nextCount(t, watcher); got != 1 {
		t.Fatalf("count after a2 = %d, want 1", got)
	}

	hub.Unregister(a1)
	if got := nextCount(t, watcher); got != 1 {
		t.Fatalf("count after a1 left = %d, want 1", got)
	}
	hub.Unregister(a2)
	if got := nextCount(t, watcher); got != 0 {
		t.Fatalf("count after a2 left = %d, want 0", got)
	}

	hub.Register(fakeClient("b", 8))
	nextCount(t, watcher)
	deadline := time.Now().Add(time.Second)
	for metrics.OnlineUsers() != 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := metrics.OnlineUsers(); got != 1 {
		t.Fatalf("metrics online users = %d, want 1", got)
	}
}

func TestHubAnonymousLeaveIsSilent(t *testing.T) {
	hub, _ := startHub(t)
	watcher := fakeClient("", 8)
	anon := fakeClient("", 8)

	hub.Register(watcher)
	nextCount(t, watcher)
	hub.Register(anon)
	if got := nextCount(t, watcher); got != 0 {
		t.Fatalf("count after anonymous join = %d, want 0", got)
	}
	hub.Unregister(anon)
	expectQuiet(t, watcher)

	if _, ok := <-anon.send; ok {
		t.Fatal("unregistered client should have its send channel closed")
	}
}

func TestHubDropsSlowListener(t *testing.T) {
	hub, _ := startHub(t)
	slow := fakeClient("slow", 1)
	fast := fakeClient("fast", 8)

	hub.Register(slow)
	hub.Register(fast)

	if got := nextCount(t, fast); got != 2 {
		t.Fatalf("first count = %d, want 2", got)
	}
	if got := nextCount(t, fast); got != 1 {
		t.Fatalf("count after slow drop = %d, want 1", got)
	}

	<-slow.send
	if _, ok := <-slow.send; ok {
		t.Fatal("slow client should be closed")
	}

	// a late unregister from the dropped client's read loop is a no-op
	hub.Unregister(slow)
	expectQuiet(t, fast)
}

func TestHubRequestCount(t *testing.T) {
	hub, _ := startHub(t)
	a := fakeClient("a", 8)
	other := fakeClient("", 8)
	hub.Register(a)
	nextCount(t, a)
	hub.Register(other)
	nextCount(t, a)
	nextCount(t, other)

	hub.RequestCount(other)
	if got := nextCount(t, other); got != 1 {
		t.Fatalf("requested count = %d, want 1", got)
	}
	expectQuiet(t, a)
}

func TestHubStopsCleanly(t *testing.T) {
	hub := NewHub(nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	c := fakeClient("a", 8)
	if !hub.Register(c) {
		t.Fatal("register on running hub failed")
	}
	nextCount(t, c)
	cancel()
	<-hub.Done()

	if _, ok := <-c.send; ok {
		t.Fatal("listeners should be closed on shutdown")
	}
	if hub.Register(fakeClient("b", 1)) {
		t.Fatal("register after shutdown should report false")
	}
	hub.Unregister(c)
	hub.RequestCount(c)
}
