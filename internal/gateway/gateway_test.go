package gateway_test

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/basket/crewctl/internal/bus"
	"github.com/basket/crewctl/internal/gateway"
	"github.com/basket/crewctl/internal/persistence"
)

const testToken = "test-token"

func newTestServer(t *testing.T) (*httptest.Server, *persistence.Store, *bus.Bus) {
	t.Helper()
	b := bus.New()
	store, err := persistence.Open(filepath.Join(t.TempDir(), "crew.db"), b, nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	srv := gateway.New(gateway.Config{
		Store:     store,
		Bus:       b,
		AuthToken: testToken,
	})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, store, b
}

func get(t *testing.T, url string) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestAPIRequiresToken(t *testing.T) {
	ts, _, _ := newTestServer(t)

	resp := get(t, ts.URL+"/api/board")
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d without token, want 401", resp.StatusCode)
	}

	resp = get(t, ts.URL+"/api/board?token=wrong")
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d with wrong token, want 401", resp.StatusCode)
	}

	resp = get(t, ts.URL+"/api/board?token="+testToken)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d with query token, want 200", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/api/board", nil)
	req.Header.Set("Authorization", "Bearer "+testToken)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("bearer request: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d with bearer token, want 200", resp.StatusCode)
	}
}

func TestHealthzIsOpen(t *testing.T) {
	ts, _, _ := newTestServer(t)
	resp := get(t, ts.URL+"/healthz")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200 without auth", resp.StatusCode)
	}
}

func TestBoardSnapshot(t *testing.T) {
	ts, store, _ := newTestServer(t)
	ctx := context.Background()

	if _, err := store.Register(ctx, "alice", "planner"); err != nil {
		t.Fatalf("register: %v", err)
	}
	res, err := store.CreateTask(ctx, "Design the API", persistence.CreateTaskOptions{CreatedBy: "alice"})
	if err != nil || !res.OK() {
		t.Fatalf("create: %v %+v", err, res)
	}

	var snap persistence.BoardSnapshot
	decodeBody(t, get(t, ts.URL+"/api/board?token="+testToken), &snap)
	if len(snap.Tasks) != 1 || snap.Tasks[0].Subject != "Design the API" {
		t.Fatalf("tasks = %+v", snap.Tasks)
	}
	if len(snap.Agents) != 1 || snap.Agents[0].Name != "alice" {
		t.Fatalf("agents = %+v", snap.Agents)
	}
}

func TestTaskDetailMissingIsNullNot404(t *testing.T) {
	ts, _, _ := newTestServer(t)

	resp := get(t, ts.URL+"/api/task/999?token="+testToken)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200 for missing task", resp.StatusCode)
	}
	var body struct {
		Task *persistence.Task `json:"task"`
	}
	decodeBody(t, resp, &body)
	if body.Task != nil {
		t.Fatalf("task = %+v, want null", body.Task)
	}
}

func TestTaskActionStatusMapping(t *testing.T) {
	ts, store, _ := newTestServer(t)
	ctx := context.Background()

	res, err := store.CreateTask(ctx, "Pending work", persistence.CreateTaskOptions{})
	if err != nil || !res.OK() {
		t.Fatalf("create: %v %+v", err, res)
	}
	id := res.TaskID

	post := func(path string) *http.Response {
		t.Helper()
		resp, err := http.Post(ts.URL+path+"?token="+testToken, "application/json", strings.NewReader("{}"))
		if err != nil {
			t.Fatalf("POST %s: %v", path, err)
		}
		return resp
	}

	// Approving outside review is a gating failure.
	resp := post("/api/task/1/approve")
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("approve status = %d, want 409", resp.StatusCode)
	}

	// The dashboard completes with force, so ownership does not matter.
	resp = post("/api/task/1/complete")
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("complete status = %d, want 200", resp.StatusCode)
	}
	task, err := store.GetTask(ctx, id)
	if err != nil || task == nil {
		t.Fatalf("get task: %v", err)
	}
	if task.Status != persistence.StatusDone {
		t.Fatalf("status = %s after dashboard complete", task.Status)
	}

	// Repeating is idempotent.
	resp = post("/api/task/1/complete")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("repeat complete status = %d, want 200", resp.StatusCode)
	}
	var body map[string]any
	decodeBody(t, resp, &body)
	if body["info"] != "already done" {
		t.Fatalf("body = %+v, want already-done info", body)
	}

	// Unknown ids are 404, bad ids 400, unknown actions 404.
	resp = post("/api/task/42/delete")
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("missing task status = %d, want 404", resp.StatusCode)
	}
	resp = post("/api/task/zero/delete")
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad id status = %d, want 400", resp.StatusCode)
	}
	resp = post("/api/task/1/explode")
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown action status = %d, want 404", resp.StatusCode)
	}
}

func TestTaskActionBodyNamesActingAgent(t *testing.T) {
	ts, store, _ := newTestServer(t)
	ctx := context.Background()

	res, err := store.CreateTask(ctx, "Pending work", persistence.CreateTaskOptions{})
	if err != nil || !res.OK() {
		t.Fatalf("create: %v %+v", err, res)
	}

	resp, err := http.Post(ts.URL+"/api/task/1/complete?token="+testToken,
		"application/json", strings.NewReader(`{"agent":"alice"}`))
	if err != nil {
		t.Fatalf("POST complete: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("complete status = %d, want 200", resp.StatusCode)
	}

	// The mutation is attributed to the named agent, not the dashboard.
	feed, err := store.Feed(ctx, 0, "alice")
	if err != nil {
		t.Fatalf("feed: %v", err)
	}
	if len(feed) != 1 || feed[0].Action != "task_completed" {
		t.Fatalf("feed for alice = %+v, want the completion", feed)
	}

	// Without an agent in the body, the dashboard is the actor.
	res, err = store.CreateTask(ctx, "More work", persistence.CreateTaskOptions{})
	if err != nil || !res.OK() {
		t.Fatalf("create: %v %+v", err, res)
	}
	resp, err = http.Post(ts.URL+"/api/task/2/delete?token="+testToken,
		"application/json", strings.NewReader("{}"))
	if err != nil {
		t.Fatalf("POST delete: %v", err)
	}
	resp.Body.Close()
	feed, err = store.Feed(ctx, 0, "dashboard")
	if err != nil {
		t.Fatalf("feed: %v", err)
	}
	if len(feed) != 1 || feed[0].Action != "task_cancelled" {
		t.Fatalf("feed for dashboard = %+v, want the cancellation", feed)
	}
}

func TestSearchAndFeedEndpoints(t *testing.T) {
	ts, store, _ := newTestServer(t)
	ctx := context.Background()

	res, err := store.CreateTask(ctx, "Fix the auth flow", persistence.CreateTaskOptions{CreatedBy: "alice"})
	if err != nil || !res.OK() {
		t.Fatalf("create: %v %+v", err, res)
	}

	var results persistence.SearchResults
	decodeBody(t, get(t, ts.URL+"/api/search?q=auth&token="+testToken), &results)
	if len(results.Tasks) != 1 {
		t.Fatalf("search tasks = %+v", results.Tasks)
	}

	var feed []persistence.Activity
	decodeBody(t, get(t, ts.URL+"/api/feed?token="+testToken), &feed)
	if len(feed) != 1 || feed[0].Action != "task_created" {
		t.Fatalf("feed = %+v", feed)
	}
}

func TestHeartbeatStreamsRefreshSignals(t *testing.T) {
	ts, _, b := newTestServer(t)

	resp := get(t, ts.URL+"/api/heartbeat?token="+testToken)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}

	scanner := bufio.NewScanner(resp.Body)
	readFrame := func() map[string]any {
		t.Helper()
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			var frame map[string]any
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &frame); err != nil {
				t.Fatalf("bad frame %q: %v", line, err)
			}
			return frame
		}
		t.Fatalf("stream ended: %v", scanner.Err())
		return nil
	}

	if frame := readFrame(); frame["type"] != "hello" {
		t.Fatalf("first frame = %+v, want hello", frame)
	}

	// The subscription is live once hello is out; a publish must arrive.
	go func() {
		time.Sleep(50 * time.Millisecond)
		b.Publish(bus.TopicBoardRefresh, bus.BoardRefreshEvent{Latest: "2026-01-01 00:00:00", TS: time.Now().Unix()})
	}()

	frame := readFrame()
	if frame["type"] != "refresh" || frame["latest"] != "2026-01-01 00:00:00" {
		t.Fatalf("frame = %+v, want refresh", frame)
	}
}

func TestPollerPublishesOnBoardChange(t *testing.T) {
	b := bus.New()
	store, err := persistence.Open(filepath.Join(t.TempDir(), "crew.db"), b, nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()

	sub := b.Subscribe(bus.TopicBoardRefresh)
	defer b.Unsubscribe(sub)

	poller := gateway.NewPoller(gateway.PollerConfig{
		Store:    store,
		Bus:      b,
		Interval: 20 * time.Millisecond,
	})
	poller.Start(context.Background())
	defer poller.Stop()

	// Let the poller seed its marker before the board moves.
	time.Sleep(60 * time.Millisecond)
	if res, err := store.CreateTask(context.Background(), "Trip the poller", persistence.CreateTaskOptions{}); err != nil || !res.OK() {
		t.Fatalf("create: %v %+v", err, res)
	}

	select {
	case event := <-sub.Ch():
		refresh, ok := event.Payload.(bus.BoardRefreshEvent)
		if !ok || refresh.Latest == "" {
			t.Fatalf("event = %+v", event)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no refresh signal after board change")
	}
}
