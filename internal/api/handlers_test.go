package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"fleettrack/internal/auth"
	"fleettrack/internal/model"
	"fleettrack/internal/store"
	"fleettrack/internal/tracking"
)

func newTestServer(t *testing.T, v *auth.Verifier) (*httptest.Server, *tracking.Engine) {
	t.Helper()
	src := store.NewMemory()
	src.SetJourneys([]model.TrackedJourney{
		{ID: "1", Status: model.StatusPlanned, DriverID: "d1", TotalStops: 4, CompletedStops: 1},
		{ID: "2", Status: model.StatusCompleted, DriverID: "d2", TotalStops: 2, CompletedStops: 2},
		{ID: "3", Status: model.StatusInProgress, DriverID: "d1", TotalStops: 3},
	})
	e := tracking.New(tracking.Options{WorkspaceID: "ws", PollInterval: time.Hour}, tracking.Deps{Source: src})
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	srv := httptest.NewServer(NewServer(e, v).Router())
	t.Cleanup(func() {
		srv.Close()
		e.Close()
	})
	return srv, e
}

func getJSON(t *testing.T, url string, into any) int {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if into != nil {
		_ = json.NewDecoder(resp.Body).Decode(into)
	}
	return resp.StatusCode
}

func send(t *testing.T, method, url, token, body string) *http.Response {
	t.Helper()
	req, _ := http.NewRequest(method, url, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestHealthReadyMetrics(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	if code := getJSON(t, srv.URL+"/healthz", nil); code != 200 {
		t.Fatalf("health: %d", code)
	}
	var ready map[string]string
	if code := getJSON(t, srv.URL+"/readyz", &ready); code != 200 || ready["connectivity"] != "disconnected" {
		t.Fatalf("ready: %d %v", code, ready)
	}
	if code := getJSON(t, srv.URL+"/metrics", nil); code != 200 {
		t.Fatalf("metrics: %d", code)
	}
}

func TestViewAndJourneys(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	var v tracking.View
	if code := getJSON(t, srv.URL+"/v1/tracking/view", &v); code != 200 {
		t.Fatalf("view: %d", code)
	}
	if len(v.Journeys) != 3 || v.Selection.JourneyID != "1" {
		t.Fatalf("view = %+v", v)
	}

	var list struct {
		Items []model.TrackedJourney `json:"items"`
	}
	getJSON(t, srv.URL+"/v1/tracking/journeys?status=active&driverId=d1", &list)
	if len(list.Items) != 2 || list.Items[0].ID != "1" || list.Items[1].ID != "3" {
		t.Fatalf("filtered = %+v", list.Items)
	}
	if code := getJSON(t, srv.URL+"/v1/tracking/journeys?status=bogus", nil); code != 400 {
		t.Fatalf("bad filter: %d", code)
	}

	var j model.TrackedJourney
	if code := getJSON(t, srv.URL+"/v1/tracking/journeys/2", &j); code != 200 || j.Status != model.StatusCompleted {
		t.Fatalf("journey 2: %d %+v", code, j)
	}
	if code := getJSON(t, srv.URL+"/v1/tracking/journeys/404", nil); code != 404 {
		t.Fatalf("missing journey: %d", code)
	}
}

func TestSelectionIntents(t *testing.T) {
	srv, e := newTestServer(t, nil)
	resp := send(t, http.MethodPost, srv.URL+"/v1/tracking/selection", "", `{"journeyId":"3"}`)
	if resp.StatusCode != 200 || e.View().Selection.JourneyID != "3" {
		t.Fatalf("select: %d", resp.StatusCode)
	}
	resp = send(t, http.MethodPost, srv.URL+"/v1/tracking/selection", "", `{"journeyId":"77"}`)
	if resp.StatusCode != 404 {
		t.Fatalf("unknown select: %d", resp.StatusCode)
	}
	resp = send(t, http.MethodPost, srv.URL+"/v1/tracking/selection", "", `{"journeyId":`)
	if resp.StatusCode != 400 {
		t.Fatalf("bad json: %d", resp.StatusCode)
	}
	resp = send(t, http.MethodDelete, srv.URL+"/v1/tracking/selection", "", "")
	if resp.StatusCode != 204 || e.View().Selection.JourneyID != "" {
		t.Fatalf("clear: %d", resp.StatusCode)
	}
}

func TestFilterStatsAndReconnect(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	resp := send(t, http.MethodPost, srv.URL+"/v1/tracking/filter", "", `{"status":"active"}`)
	if resp.StatusCode != 200 {
		t.Fatalf("filter: %d", resp.StatusCode)
	}
	var st struct {
		Stats struct {
			Total  int `json:"total"`
			Active int `json:"active"`
		} `json:"stats"`
	}
	getJSON(t, srv.URL+"/v1/tracking/stats", &st)
	if st.Stats.Total != 2 || st.Stats.Active != 2 {
		t.Fatalf("stats = %+v", st)
	}
	resp = send(t, http.MethodPost, srv.URL+"/v1/tracking/filter", "", `{"status":"later"}`)
	if resp.StatusCode != 400 {
		t.Fatalf("bad filter: %d", resp.StatusCode)
	}
	resp = send(t, http.MethodPost, srv.URL+"/v1/tracking/reconnect", "", "")
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("reconnect without channel: %d", resp.StatusCode)
	}
	resp = send(t, http.MethodPost, srv.URL+"/v1/tracking/alerts/read", "", "")
	if resp.StatusCode != 204 {
		t.Fatalf("mark read: %d", resp.StatusCode)
	}
}

func TestIntentsRequireToken(t *testing.T) {
	v := auth.NewVerifier("k")
	srv, _ := newTestServer(t, v)
	if resp := send(t, http.MethodDelete, srv.URL+"/v1/tracking/selection", "", ""); resp.StatusCode != 401 {
		t.Fatalf("no token: %d", resp.StatusCode)
	}
	if resp := send(t, http.MethodDelete, srv.URL+"/v1/tracking/selection", "garbage", ""); resp.StatusCode != 401 {
		t.Fatalf("bad token: %d", resp.StatusCode)
	}
	tok, _ := auth.NewHMACSource("k", "ops", "ws").Token(context.Background())
	if resp := send(t, http.MethodDelete, srv.URL+"/v1/tracking/selection", tok, ""); resp.StatusCode != 204 {
		t.Fatalf("valid token: %d", resp.StatusCode)
	}
	if code := getJSON(t, srv.URL+"/v1/tracking/view", nil); code != 200 {
		t.Fatalf("reads stay open: %d", code)
	}
}

func TestStreamEmitsUpdates(t *testing.T) {
	srv, e := newTestServer(t, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/v1/tracking/stream", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Fatalf("content type %q", ct)
	}
	sc := bufio.NewScanner(resp.Body)
	var events []string
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, "event: ") {
			continue
		}
		events = append(events, strings.TrimPrefix(line, "event: "))
		if len(events) == 1 {
			_ = e.SetFilter(model.FilterCriteria{Status: model.FilterDelayed})
		}
		if len(events) == 2 {
			break
		}
	}
	if len(events) != 2 || events[0] != "snapshot" || events[1] != "filter" {
		t.Fatalf("events = %v", events)
	}
}
