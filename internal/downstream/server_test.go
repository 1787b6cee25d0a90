package downstream

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/koshedutech/market-broker/internal/mockexchange"
	"github.com/koshedutech/market-broker/internal/ratelimiter"
	"github.com/koshedutech/market-broker/internal/streammanager"
)

func neverDial(ctx context.Context, url string) (streammanager.Conn, error) {
	return nil, context.DeadlineExceeded
}

func TestServer_SubscribeProducesChartFrame(t *testing.T) {
	hub := NewHub()
	limiter := ratelimiter.New(ratelimiter.Config{MaxWeight: 10000, Window: time.Minute, RequestDelay: time.Millisecond})
	srv := NewServer(hub, mockexchange.New(), limiter, neverDial, "wss://example", LifecycleHooks{})

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http")

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	sub := map[string]interface{}{
		"action": "subscribe", "channelId": "detail-BTCUSDT-1m", "channelType": "detail",
		"symbol": "BTCUSDT", "interval": "1m",
	}
	data, _ := json.Marshal(sub)
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	sawChart := false
	for i := 0; i < 10; i++ {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			break
		}
		var frame map[string]interface{}
		json.Unmarshal(raw, &frame)
		if frame["type"] == "chart" {
			sawChart = true
			break
		}
	}
	if !sawChart {
		t.Fatal("expected a chart frame after subscribing")
	}
}
