package main

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rickgao/ctpbridge/internal/auth"
	"github.com/rickgao/ctpbridge/internal/bridge"
	"github.com/rickgao/ctpbridge/internal/config"
	"github.com/rickgao/ctpbridge/internal/gateway"
	"github.com/rickgao/ctpbridge/internal/model"
	"github.com/rickgao/ctpbridge/internal/session"
)

type stubBridge struct{ stats bridge.Stats }

func (s stubBridge) Stats() bridge.Stats { return s.stats }

type stubDB struct{ err error }

func (s stubDB) Ping(context.Context) error { return s.err }

type okGateway struct{}

func (okGateway) SubscribeMarketData(context.Context, string) int   { return 0 }
func (okGateway) UnsubscribeMarketData(context.Context, string) int { return 0 }
func (okGateway) SubmitOrder(context.Context, model.OrderRequest, string) int {
	return 0
}

func getJSON(t *testing.T, h http.Handler, path string) (int, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))

	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode %s: %v", path, err)
	}
	return rec.Code, body
}

func TestHealth(t *testing.T) {
	sess := session.New(okGateway{}, okGateway{})
	defer sess.Close()

	tests := []struct {
		name       string
		connected  bool
		db         pinger
		wantCode   int
		wantStatus string
	}{
		{"connected", true, nil, http.StatusOK, "healthy"},
		{"disconnected", false, nil, http.StatusServiceUnavailable, "unhealthy"},
		{"db down", true, stubDB{err: errors.New("refused")}, http.StatusOK, "degraded"},
		{"db up", true, stubDB{}, http.StatusOK, "healthy"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := createHealthHandler(components{
				bridge:  stubBridge{bridge.Stats{Connected: tt.connected}},
				session: sess,
				db:      tt.db,
			})

			code, body := getJSON(t, h, "/health")
			if code != tt.wantCode {
				t.Errorf("code = %d, want %d", code, tt.wantCode)
			}
			if body["status"] != tt.wantStatus {
				t.Errorf("status = %v, want %s", body["status"], tt.wantStatus)
			}
		})
	}
}

func TestHealthReportsFronts(t *testing.T) {
	sess := session.New(okGateway{}, okGateway{})
	defer sess.Close()
	sess.OnLogin(gateway.FrontMarketData, gateway.Login{TradingDay: "20261019"}, nil)

	h := createHealthHandler(components{bridge: stubBridge{bridge.Stats{Connected: true}}, session: sess})
	_, body := getJSON(t, h, "/health")

	comps, _ := body["components"].(map[string]any)
	fronts, _ := comps["fronts"].(map[string]any)
	if fronts["md"] != true || fronts["td"] != false {
		t.Errorf("fronts = %v, want md logged in only", fronts)
	}
}

func TestDebugStatsIncludesPoller(t *testing.T) {
	sess := session.New(okGateway{}, okGateway{})
	defer sess.Close()

	cfg := &config.Config{}
	if p := newQuotePoller(cfg, nil, sess, slog.Default()); p != nil {
		t.Fatal("poller built without quote services")
	}

	cfg.ConnectInfo.Level1QuoteURLs = []string{"http://127.0.0.1:1"}
	parts := components{bridge: stubBridge{}, session: sess}
	parts.poller = newQuotePoller(cfg, nil, sess, slog.Default())
	if parts.poller == nil {
		t.Fatal("newQuotePoller returned nil")
	}

	_, body := getJSON(t, createHealthHandler(parts), "/debug/stats")
	if _, ok := body["poller"]; !ok {
		t.Errorf("debug stats missing poller: %v", body)
	}
}

func TestQuotePollerSignsRequests(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	var verified atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := auth.Verify(&key.PublicKey, r.Method, r.URL.Path, r.Header, time.Minute); err != nil {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		verified.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	sess := session.New(okGateway{}, okGateway{})
	defer sess.Close()
	if err := sess.Subscribe(context.Background(), "rb2510", "a"); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	cfg := &config.Config{}
	cfg.ConnectInfo.Level1QuoteURLs = []string{server.URL}
	cfg.Poller.Interval = 10 * time.Millisecond
	cfg.Poller.Timeout = time.Second

	p := newQuotePoller(cfg, &auth.Credentials{KeyID: "bridge", PrivateKey: key}, sess, slog.Default())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)
	defer p.Stop(context.Background())

	deadline := time.Now().Add(2 * time.Second)
	for verified.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("quote service never saw a signed request")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestDebugSubscriptions(t *testing.T) {
	sess := session.New(okGateway{}, okGateway{})
	defer sess.Close()

	ctx := context.Background()
	if err := sess.Subscribe(ctx, "rb2510", "a"); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if err := sess.Subscribe(ctx, "rb2510", "b"); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	h := createHealthHandler(components{bridge: stubBridge{}, session: sess})
	_, body := getJSON(t, h, "/debug/subscriptions")

	if body["count"] != float64(1) {
		t.Errorf("count = %v, want 1", body["count"])
	}
	subs, _ := body["subscriptions"].(map[string]any)
	if subs["rb2510"] != float64(2) {
		t.Errorf("rb2510 subscribers = %v, want 2", subs["rb2510"])
	}
}

func TestSplitList(t *testing.T) {
	got := splitList(" rb2510, ,ag2512,")
	if len(got) != 2 || got[0] != "rb2510" || got[1] != "ag2512" {
		t.Errorf("splitList = %v", got)
	}
	if splitList("") != nil {
		t.Error("empty input should give nil")
	}
}
