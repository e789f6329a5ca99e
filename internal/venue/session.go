package venue

import (
	"encoding/json"
	"sync"

	"github.com/web3guy0/fundingarb/internal/orderbook"
)

// Reports is the typed, mutex-guarded replacement for the Python
// reports map that streaming threads write into and the coordinator
// polls. It carries exactly the three cross-component signals the
// streaming session is allowed to surface (spec.md §4.1): raw user-data
// payloads, a funding-collected flag, and a liquidation flag.
type Reports struct {
	mu               sync.Mutex
	userDataStream   []json.RawMessage
	fundingCollected bool
	liquidated       bool
}

// AppendUserData records one raw execution-report payload.
func (r *Reports) AppendUserData(raw json.RawMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.userDataStream = append(r.userDataStream, raw)
}

// SetFundingCollected marks that a FUNDING_FEE account update arrived.
func (r *Reports) SetFundingCollected() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fundingCollected = true
}

// FundingCollected reports whether a funding credit has been observed.
func (r *Reports) FundingCollected() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fundingCollected
}

// SetLiquidated marks a margin-call / bust-trade event.
func (r *Reports) SetLiquidated() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.liquidated = true
}

// Liquidated reports whether a liquidation event has been observed.
func (r *Reports) Liquidated() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.liquidated
}

// Reset clears all signals. The adapters' reconnect loops do not call it,
// so signals recorded before a reconnect are kept.
func (r *Reports) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.userDataStream = nil
	r.fundingCollected = false
	r.liquidated = false
}

// UserDataStream returns a copy of the raw execution reports seen so far.
func (r *Reports) UserDataStream() []json.RawMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]json.RawMessage, len(r.userDataStream))
	copy(out, r.userDataStream)
	return out
}

// Balances is the mutex-guarded per-asset balance map of a session. The
// streaming adapters do not write to it; it stays empty unless a caller
// uses Set.
type Balances struct {
	mu   sync.RWMutex
	data map[string]Balance
}

// NewBalances returns an empty balance table.
func NewBalances() *Balances {
	return &Balances{data: make(map[string]Balance)}
}

// Set records the latest balance for an asset.
func (b *Balances) Set(asset string, bal Balance) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data[asset] = bal
}

// Get returns the latest known balance for an asset.
func (b *Balances) Get(asset string) (Balance, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	bal, ok := b.data[asset]
	return bal, ok
}

// Session bundles the three lock-guarded resources a venue-symbol
// streaming loop mutates and a trade coordinator reads: the order book
// replica, the user-data reports, and the balance table. One Session is
// owned by exactly one Venue Adapter instance for the duration of a run.
type Session struct {
	Book     *orderbook.Book
	Reports  *Reports
	Balances *Balances
}

// NewSession allocates a fresh, empty session for one venue-symbol.
func NewSession(symbol string) *Session {
	return &Session{
		Book:     orderbook.New(symbol),
		Reports:  &Reports{},
		Balances: NewBalances(),
	}
}
