package bybit

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/fundingarb/internal/orderbook"
	"github.com/web3guy0/fundingarb/internal/venue"
	"github.com/web3guy0/fundingarb/internal/venue/httpsign"
)

const (
	publicWSURL  = "wss://stream.bybit.com/contract/usdt/public/v3"
	privateWSURL = "wss://stream.bybit.com/contract/private/v3"
	pingInterval = 20 * time.Second
)

type subscribeMsg struct {
	Op    string   `json:"op"`
	Args  []string `json:"args"`
	ReqID string   `json:"req_id"`
}

type topicEnvelope struct {
	Topic string          `json:"topic"`
	Type  string          `json:"type"`
	Data  json.RawMessage `json:"data"`
}

type orderbookDelta struct {
	Bids [][]string `json:"b"`
	Asks [][]string `json:"a"`
}

// StartStreams runs the public depth+ticker socket and, when credentials
// are present, the private user-data socket concurrently, both feeding
// the same session. Either socket reconnects independently on error.
func (a *Adapter) StartStreams(ctx context.Context, sess *venue.Session) error {
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		a.runPublicLoop(ctx, sess)
	}()

	if a.apiKey != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.runPrivateLoop(ctx, sess)
		}()
	}

	wg.Wait()
	return ctx.Err()
}

func (a *Adapter) runPublicLoop(ctx context.Context, sess *venue.Session) {
	for {
		if ctx.Err() != nil {
			return
		}
		if err := a.runPublicOnce(ctx, sess); err != nil {
			a.log.Warn().Err(err).Msg("public stream disconnected, reconnecting")
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Second):
		}
	}
}

func (a *Adapter) runPublicOnce(ctx context.Context, sess *venue.Session) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, publicWSURL, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(subscribeMsg{Op: "subscribe", Args: []string{"orderbook.50." + a.symbol}, ReqID: "depthsub"}); err != nil {
		return fmt.Errorf("subscribe depth: %w", err)
	}
	if err := conn.WriteJSON(subscribeMsg{Op: "subscribe", Args: []string{"tickers." + a.symbol}, ReqID: "tickersub"}); err != nil {
		return fmt.Errorf("subscribe tickers: %w", err)
	}

	stopPing := make(chan struct{})
	defer close(stopPing)
	go pingLoop(conn, stopPing)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		var env topicEnvelope
		if err := json.Unmarshal(raw, &env); err != nil || env.Topic == "" {
			continue
		}

		switch {
		case env.Topic == "tickers."+a.symbol:
			var ticker struct {
				FundingRate string `json:"fundingRate"`
			}
			if err := json.Unmarshal(env.Data, &ticker); err == nil {
				_, _ = decimal.NewFromString(ticker.FundingRate)
			}
		case env.Topic == "orderbook.50."+a.symbol:
			var delta orderbookDelta
			if err := json.Unmarshal(env.Data, &delta); err != nil {
				continue
			}
			ts := time.Now().UnixMilli()
			if env.Type == "snapshot" {
				sess.Book.ApplySnapshot(toLevels(delta.Bids), toLevels(delta.Asks), ts)
			} else {
				for _, lvl := range toLevels(delta.Bids) {
					sess.Book.ApplyDelta(orderbook.Bids, lvl.Price, lvl.Qty, ts)
				}
				for _, lvl := range toLevels(delta.Asks) {
					sess.Book.ApplyDelta(orderbook.Asks, lvl.Price, lvl.Qty, ts)
				}
			}
		}
	}
}

func (a *Adapter) runPrivateLoop(ctx context.Context, sess *venue.Session) {
	for {
		if ctx.Err() != nil {
			return
		}
		if err := a.runPrivateOnce(ctx, sess); err != nil {
			a.log.Warn().Err(err).Msg("private stream disconnected, reconnecting")
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Second):
		}
	}
}

func (a *Adapter) runPrivateOnce(ctx context.Context, sess *venue.Session) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, privateWSURL, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	expires := httpsign.TimestampMs(time.Now()) + 10000
	payload := fmt.Sprintf("GET/realtime%d", expires)
	sig := httpsign.SignString(a.apiSecret, payload)
	if err := conn.WriteJSON(map[string]any{
		"op":   "auth",
		"args": []any{a.apiKey, expires, sig},
	}); err != nil {
		return fmt.Errorf("auth: %w", err)
	}
	if err := conn.WriteJSON(subscribeMsg{
		Op: "subscribe",
		Args: []string{
			"user.wallet.contractAccount",
			"user.order.contractAccount",
			"user.execution.contractAccount",
			"user.position.contractAccount",
		},
		ReqID: "udssub",
	}); err != nil {
		return fmt.Errorf("subscribe user data: %w", err)
	}

	stopPing := make(chan struct{})
	defer close(stopPing)
	go pingLoop(conn, stopPing)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		var env struct {
			Topic string            `json:"topic"`
			Data  []json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(raw, &env); err != nil || env.Topic == "" {
			continue
		}
		sess.Reports.AppendUserData(raw)
		if env.Topic != "user.execution.contractAccount" || len(env.Data) == 0 {
			continue
		}
		var exec struct {
			ExecType string `json:"execType"`
		}
		if err := json.Unmarshal(env.Data[0], &exec); err != nil {
			continue
		}
		switch exec.ExecType {
		case "Funding":
			sess.Reports.SetFundingCollected()
		case "BustTrade":
			sess.Reports.SetLiquidated()
		}
	}
}

func pingLoop(conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"req_id":"100001","op":"ping"}`)); err != nil {
				return
			}
		}
	}
}

func toLevels(raw [][]string) []orderbook.Level {
	out := make([]orderbook.Level, 0, len(raw))
	for _, r := range raw {
		if len(r) != 2 {
			continue
		}
		price, _ := decimal.NewFromString(r[0])
		qty, _ := decimal.NewFromString(r[1])
		out = append(out, orderbook.Level{Price: price, Qty: qty})
	}
	return out
}
