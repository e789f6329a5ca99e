package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/fundingarb/internal/orderbook"
	"github.com/web3guy0/fundingarb/internal/venue"
)

const wsBase = "fstream.binance.com"

// createListenKey obtains a user-data-stream listen key; an adapter with
// no API key gets an empty key and subscribes to market streams only.
func (a *Adapter) createListenKey(ctx context.Context) (string, error) {
	if a.apiKey == "" {
		return "", nil
	}
	var result struct {
		ListenKey string `json:"listenKey"`
	}
	resp, err := a.http.R().SetContext(ctx).
		SetHeader("X-MBX-APIKEY", a.apiKey).
		SetResult(&result).
		Post("/fapi/v1/listenKey")
	if err != nil {
		return "", fmt.Errorf("binance listen key: %w", err)
	}
	if resp.StatusCode() != 200 {
		return "", fmt.Errorf("binance listen key: %s", resp.String())
	}
	return result.ListenKey, nil
}

func (a *Adapter) renewListenKey(ctx context.Context, key string) {
	if a.apiKey == "" || key == "" {
		return
	}
	_, _ = a.http.R().SetContext(ctx).
		SetHeader("X-MBX-APIKEY", a.apiKey).
		SetQueryParam("listenKey", key).
		Put("/fapi/v1/listenKey")
}

// depthSnapshot fetches a REST order-book snapshot to bootstrap the
// replica before the first in-sequence delta arrives.
type depthSnapshot struct {
	LastUpdateID int64      `json:"lastUpdateId"`
	Bids         [][]string `json:"bids"`
	Asks         [][]string `json:"asks"`
}

func (a *Adapter) getSnapshot(ctx context.Context) (depthSnapshot, error) {
	var snap depthSnapshot
	resp, err := a.http.R().SetContext(ctx).
		SetQueryParam("symbol", a.symbol).
		SetQueryParam("limit", "1000").
		SetResult(&snap).
		Get(publicURL + "/fapi/v1/depth")
	if err != nil {
		return depthSnapshot{}, fmt.Errorf("binance depth snapshot: %w", err)
	}
	if resp.StatusCode() != 200 {
		return depthSnapshot{}, fmt.Errorf("binance depth snapshot: status %d", resp.StatusCode())
	}
	return snap, nil
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

type wsEnvelope struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

type wsEventHeader struct {
	Event string `json:"e"`
}

type depthUpdateMsg struct {
	FirstUpdateID int64      `json:"U"`
	FinalUpdateID int64      `json:"u"`
	PrevFinalID   int64      `json:"pu"`
	Bids          [][]string `json:"b"`
	Asks          [][]string `json:"a"`
}

type markPriceMsg struct {
	FundingRate string `json:"r"`
}

// StartStreams opens the combined market-data stream (depth + mark price)
// and, when credentials are present, the user-data stream on the listen
// key, reconciling depth updates into sess.Book with the
// bootstrap-then-continuation sync Binance's combined stream requires:
// the first in-sequence frame (U <= lastUpdateId <= u) applies, every
// later frame must chain off the previous frame's final update ID (pu),
// and any gap resets the bootstrap.
func (a *Adapter) StartStreams(ctx context.Context, sess *venue.Session) error {
	listenKey, err := a.createListenKey(ctx)
	if err != nil {
		a.log.Warn().Err(err).Msg("listen key unavailable, continuing with public streams only")
	}

	renewTicker := time.NewTicker(25 * time.Minute)
	defer renewTicker.Stop()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-renewTicker.C:
				a.renewListenKey(ctx, listenKey)
			}
		}
	}()

	streamPath := fmt.Sprintf("/stream?streams=%s@depth@100ms/%s@markPrice@1s",
		strings.ToLower(a.symbol), strings.ToLower(a.symbol))
	if listenKey != "" {
		streamPath = fmt.Sprintf("/stream?streams=%s/%s@depth@100ms/%s@markPrice@1s",
			listenKey, strings.ToLower(a.symbol), strings.ToLower(a.symbol))
	}
	url := fmt.Sprintf("wss://%s%s", wsBase, streamPath)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := a.runStreamOnce(ctx, url, listenKey, sess); err != nil {
			a.log.Warn().Err(err).Msg("stream disconnected, reconnecting")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
		}
	}
}

func (a *Adapter) runStreamOnce(ctx context.Context, url, listenKey string, sess *venue.Session) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	bootstrapped := false
	var lastUpdateID int64

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}

		var env wsEnvelope
		if err := json.Unmarshal(raw, &env); err != nil {
			continue
		}

		if listenKey != "" && env.Stream == listenKey {
			sess.Reports.AppendUserData(env.Data)
			var report struct {
				EventType string `json:"e"`
				Update    *struct {
					Reason string `json:"m"`
				} `json:"a"`
			}
			if err := json.Unmarshal(env.Data, &report); err == nil {
				if report.Update != nil && report.Update.Reason == "FUNDING_FEE" {
					sess.Reports.SetFundingCollected()
				}
				if report.EventType == "MARGIN_CALL" {
					sess.Reports.SetLiquidated()
				}
			}
			continue
		}

		var header wsEventHeader
		if err := json.Unmarshal(env.Data, &header); err != nil {
			continue
		}

		switch header.Event {
		case "markPriceUpdate":
			var mp markPriceMsg
			if err := json.Unmarshal(env.Data, &mp); err == nil {
				_, _ = decimal.NewFromString(mp.FundingRate)
			}
		case "depthUpdate":
			var du depthUpdateMsg
			if err := json.Unmarshal(env.Data, &du); err != nil {
				continue
			}
			if !bootstrapped {
				snap, err := a.getSnapshot(ctx)
				if err != nil {
					a.log.Warn().Err(err).Msg("depth snapshot fetch failed")
					continue
				}
				sess.Book.ApplySnapshot(toLevels(snap.Bids), toLevels(snap.Asks), time.Now().UnixMilli())
				lastUpdateID = snap.LastUpdateID
			}

			var apply bool
			bootstrapped, lastUpdateID, apply = nextBootstrapState(bootstrapped, lastUpdateID, du)
			if apply {
				applyDepthUpdate(sess.Book, du)
			}
		}
	}
}

// nextBootstrapState decides whether a depth-update frame continues the
// current bootstrap, starts a fresh one, or signals a gap that must reset
// and re-snapshot: the first in-sequence frame (U <= lastUpdateId <= u)
// bootstraps, every later frame must chain off the previous frame's final
// update ID (pu), and any other frame means the sequence was broken and
// the next frame will re-snapshot before trying again.
func nextBootstrapState(bootstrapped bool, lastUpdateID int64, du depthUpdateMsg) (newBootstrapped bool, newLastUpdateID int64, apply bool) {
	switch {
	case !bootstrapped && du.FirstUpdateID <= lastUpdateID && lastUpdateID <= du.FinalUpdateID:
		return true, du.FinalUpdateID, true
	case bootstrapped && du.PrevFinalID == lastUpdateID:
		return true, du.FinalUpdateID, true
	default:
		return false, lastUpdateID, false
	}
}

func applyDepthUpdate(book *orderbook.Book, du depthUpdateMsg) {
	ts := time.Now().UnixMilli()
	for _, lvl := range toLevels(du.Bids) {
		book.ApplyDelta(orderbook.Bids, lvl.Price, lvl.Qty, ts)
	}
	for _, lvl := range toLevels(du.Asks) {
		book.ApplyDelta(orderbook.Asks, lvl.Price, lvl.Qty, ts)
	}
}
