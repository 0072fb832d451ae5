package cloud

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func testClient(t *testing.T, apiBase string) *HTTPClient {
	t.Helper()
	c := NewHTTP(Options{
		Username: "user@example.com",
		Password: "secret",
		Region:   "cn",
		APIBase:  apiBase,
		Timeout:  5 * time.Second,
	}, nil)
	// Pre-seeded session keeps tests off the real account service.
	c.serviceToken = "token123"
	c.userID = "42"
	return c
}

func TestEventPageDecodesWireFormat(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "eventlist") {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if got := r.URL.Query().Get("sortType"); got != "DESC" {
			t.Errorf("sortType = %q", got)
		}
		if cookie, err := r.Cookie("serviceToken"); err != nil || cookie.Value != "token123" {
			t.Error("missing serviceToken cookie")
		}
		w.Write([]byte(`{
			"code": 0,
			"data": {
				"isContinue": true,
				"nextTime": 1699990000000,
				"thirdPartPlayUnits": [
					{"createTime": 1700000000000, "fileId": "abc123", "eventType": "Bell"},
					{"createTime": 1699999000000, "fileId": "def456", "eventType": "Pass"}
				]
			}
		}`))
	}))
	defer server.Close()

	client := testClient(t, server.URL)
	page, err := client.EventPage(context.Background(), Device{DID: "1", Model: "madv.cateye.x"}, EventQuery{
		BeginTime: 1699900000000,
		EndTime:   1700000000999,
		Limit:     10,
	})
	if err != nil {
		t.Fatalf("EventPage failed: %v", err)
	}
	if !page.IsContinue || page.NextTime != 1699990000000 {
		t.Errorf("cursor fields: %+v", page)
	}
	if len(page.Items) != 2 {
		t.Fatalf("items = %d", len(page.Items))
	}
	if page.Items[0].FileID != "abc123" || page.Items[0].EventTime != 1700000000000 {
		t.Errorf("createTime not mapped to EventTime: %+v", page.Items[0])
	}
}

func TestEventPageCloudErrorCode(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code": 401, "data": {}}`))
	}))
	defer server.Close()

	client := testClient(t, server.URL)
	_, err := client.EventPage(context.Background(), Device{}, EventQuery{Limit: 10})
	if err == nil || !strings.Contains(err.Error(), "code 401") {
		t.Fatalf("expected cloud code error, got %v", err)
	}
}

func TestPlaylistURLIncludesSignedParams(t *testing.T) {
	client := testClient(t, "https://camera.example.com")
	got, err := client.PlaylistURL(context.Background(), Device{DID: "77", Model: "madv.cateye.x"}, "abc123")
	if err != nil {
		t.Fatalf("PlaylistURL failed: %v", err)
	}
	if !strings.HasPrefix(got, "https://camera.example.com/common/app/m3u8?") {
		t.Errorf("unexpected endpoint: %q", got)
	}
	for _, fragment := range []string{"yetAnotherServiceToken=token123", "abc123", "77"} {
		if !strings.Contains(got, fragment) {
			t.Errorf("url %q missing %q", got, fragment)
		}
	}
}

func TestFetchReturnsBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("segment-bytes"))
	}))
	defer server.Close()

	client := testClient(t, server.URL)
	body, err := client.Fetch(context.Background(), server.URL+"/1.ts")
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if string(body) != "segment-bytes" {
		t.Errorf("body = %q", body)
	}
}

func TestFetchRejectsOversizedBody(t *testing.T) {
	original := maxFetchBytes
	maxFetchBytes = 1024
	defer func() { maxFetchBytes = original }()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(bytes.Repeat([]byte{0xab}, 1025))
	}))
	defer server.Close()

	client := testClient(t, server.URL)
	_, err := client.Fetch(context.Background(), server.URL+"/big.ts")
	if err == nil || !strings.Contains(err.Error(), "exceeds") {
		t.Fatalf("expected oversize error, got %v", err)
	}

	// A body exactly at the limit still succeeds.
	exact := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(bytes.Repeat([]byte{0xcd}, 1024))
	}))
	defer exact.Close()
	body, err := client.Fetch(context.Background(), exact.URL+"/ok.ts")
	if err != nil {
		t.Fatalf("Fetch at limit failed: %v", err)
	}
	if len(body) != 1024 {
		t.Errorf("body length = %d", len(body))
	}
}

func TestFetchNonOKStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer server.Close()

	client := testClient(t, server.URL)
	if _, err := client.Fetch(context.Background(), server.URL); err == nil {
		t.Fatal("expected error for 404")
	}
}

func TestFindDoorbell(t *testing.T) {
	devices := []Device{
		{Name: "Front Door", Model: "madv.cateye.mi3", DID: "a"},
		{Name: "Front Door", Model: "chuangmi.plug.v3", DID: "b"},
		{Name: "Back Door", Model: "madv.cateye.mi3", DID: "c"},
	}

	dev, ok := FindDoorbell(devices, "Front Door", "madv.cateye.")
	if !ok || dev.DID != "a" {
		t.Errorf("FindDoorbell = %+v, %v", dev, ok)
	}
	if _, ok := FindDoorbell(devices, "Garage", "madv.cateye."); ok {
		t.Error("unexpected match for unknown name")
	}
	// A name that only matches a non-doorbell model must not match.
	if _, ok := FindDoorbell(devices[1:2], "Front Door", "madv.cateye."); ok {
		t.Error("plug should not match doorbell prefix")
	}
}

func TestEventTypeLabels(t *testing.T) {
	cases := map[string]string{
		"Pass":      "someone passed by",
		"Pass:Stay": "someone lingered at the door",
		"Bell":      "doorbell pressed",
		"Pass:Bell": "doorbell pressed",
		"Custom":    "Custom",
	}
	for eventType, want := range cases {
		e := Event{EventType: eventType}
		if got := e.TypeLabel(); got != want {
			t.Errorf("TypeLabel(%q) = %q, want %q", eventType, got, want)
		}
	}
}

func TestStripJSONGuard(t *testing.T) {
	body := []byte("&&&START&&&{\"code\":0}")
	if got := string(stripJSONGuard(body)); got != `{"code":0}` {
		t.Errorf("stripJSONGuard = %q", got)
	}
}
