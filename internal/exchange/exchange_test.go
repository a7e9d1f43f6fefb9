package exchange

import (
	"errors"
	"math"
	"reflect"
	"testing"

	"github.com/efreitasn/marketsim/internal/domain"
	"github.com/efreitasn/marketsim/internal/sim"
	"github.com/shopspring/decimal"
)

type fillNote struct {
	symbol string
	side   domain.Side
	price  decimal.Decimal
	size   uint64
}

// testAgent records registration and fill callbacks.
type testAgent struct {
	sim.Meta
	exchanges []*Exchange
	fills     []fillNote
}

func (a *testAgent) Update() {}

func (a *testAgent) OnRegister(ex *Exchange) { a.exchanges = append(a.exchanges, ex) }

func (a *testAgent) OnExecutedTrade(symbol string, side domain.Side, price decimal.Decimal, size uint64) {
	a.fills = append(a.fills, fillNote{symbol: symbol, side: side, price: price, size: size})
}

type fataler interface {
	Helper()
	Fatalf(format string, args ...any)
}

// newTestMarket creates a started scheduler with one exchange listing
// symbols with the default payoff.
func newTestMarket(t fataler, cfg Config, symbols ...string) (*sim.Scheduler, *Exchange) {
	t.Helper()
	s := sim.New(sim.Config{Iterations: 1000})
	ex, err := New(s.Arena(), cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	s.Add(ex)
	for _, sym := range symbols {
		ex.RegisterProduct(NewProduct(s.Arena(), sym, nil))
	}
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return s, ex
}

func newTestAgent(ex *Exchange) *testAgent {
	a := &testAgent{Meta: ex.Arena().Stamp(domain.KindAgent)}
	ex.RegisterAgent(a)
	return a
}

func unitTicks() Config {
	return Config{TickSize: decimal.NewFromInt(1)}
}

func dec(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func assertDec(t *testing.T, name string, got, want decimal.Decimal) {
	t.Helper()
	if !got.Equal(want) {
		t.Errorf("%s = %s, want %s", name, got, want)
	}
}

func TestNew_RejectsBadConfig(t *testing.T) {
	a := sim.NewArena(nil)
	if _, err := New(a, Config{TickSize: dec(-1)}); !errors.Is(err, domain.ErrInvalidTickSize) {
		t.Errorf("negative tick size err = %v, want ErrInvalidTickSize", err)
	}
	var ve *domain.ValidationError
	if _, err := New(a, Config{OrderFee: dec(-1)}); !errors.As(err, &ve) {
		t.Errorf("negative fee err = %v, want ValidationError", err)
	}
	ex, err := New(a, Config{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	assertDec(t, "default tick size", ex.TickSize(), decimal.New(5, -2))
}

func TestRegisterProduct_Idempotent(t *testing.T) {
	s, ex := newTestMarket(t, unitTicks(), "aaaa")

	if ex.RegisterProduct(NewProduct(s.Arena(), "AAAA", nil)) {
		t.Error("registering AAAA twice should return false")
	}
	if got := ex.Symbols(); len(got) != 1 || got[0] != "AAAA" {
		t.Errorf("Symbols() = %v, want [AAAA]", got)
	}
	book, ok := ex.Book("aaaa")
	if !ok {
		t.Fatal("book for AAAA missing")
	}
	if !s.Has(book.Key()) {
		t.Error("book registered after the exchange was not added to the scheduler")
	}
	p, _ := ex.Product("AAAA")
	if !s.Has(p.Key()) || p.Exchange() != ex {
		t.Error("product not wired to scheduler and exchange")
	}
}

func TestRegisterAgent_Idempotent(t *testing.T) {
	_, ex := newTestMarket(t, unitTicks(), "AAAA")
	a := newTestAgent(ex)

	if ex.RegisterAgent(a) {
		t.Error("registering an agent twice should return false")
	}
	if len(a.exchanges) != 1 || a.exchanges[0] != ex {
		t.Errorf("OnRegister called %d times, want 1", len(a.exchanges))
	}
	if len(ex.Agents()) != 1 {
		t.Errorf("Agents() = %v, want one account", ex.Agents())
	}
}

func TestExecuteTrade_SettlesBothAccounts(t *testing.T) {
	s, ex := newTestMarket(t, unitTicks(), "AAAA")
	seller, buyer := newTestAgent(ex), newTestAgent(ex)

	if _, err := ex.LimitOrder(seller.Key(), "AAAA", domain.Sell, dec(10), 5, domain.NoExpiry); err != nil {
		t.Fatalf("ask: %v", err)
	}
	s.Advance()
	if _, err := ex.LimitOrder(buyer.Key(), "aaaa", domain.Buy, dec(12), 3, domain.NoExpiry); err != nil {
		t.Fatalf("bid: %v", err)
	}
	s.Advance()

	sh, _ := ex.Holdings(seller.Key())
	bh, _ := ex.Holdings(buyer.Key())
	assertDec(t, "seller cash", sh.Cash, dec(30))
	assertDec(t, "buyer cash", bh.Cash, dec(-30))
	if sh.Position("AAAA") != -3 || bh.Position("AAAA") != 3 {
		t.Errorf("positions = %d / %d, want -3 / 3", sh.Position("AAAA"), bh.Position("AAAA"))
	}

	p, _ := ex.Product("AAAA")
	last, ok := p.LastTrade()
	if !ok || p.Volume() != 3 || !last.Price.Equal(dec(10)) {
		t.Errorf("product volume=%d last=%+v", p.Volume(), last)
	}
	if last.Buyer != buyer.Key() || last.Seller != seller.Key() || last.Time != 1 {
		t.Errorf("trade record = %+v", last)
	}

	if len(buyer.fills) != 1 || buyer.fills[0].side != domain.Buy || buyer.fills[0].size != 3 {
		t.Errorf("buyer fills = %+v", buyer.fills)
	}
	if len(seller.fills) != 1 || seller.fills[0].side != domain.Sell || !seller.fills[0].price.Equal(dec(10)) {
		t.Errorf("seller fills = %+v", seller.fills)
	}
}

func TestPlaceOrder_DebitsFee(t *testing.T) {
	cfg := unitTicks()
	cfg.OrderFee = decimal.New(5, -1)
	_, ex := newTestMarket(t, cfg, "AAAA")
	a := newTestAgent(ex)

	for i := 0; i < 3; i++ {
		if _, err := ex.LimitOrder(a.Key(), "AAAA", domain.Buy, dec(5), 1, domain.NoExpiry); err != nil {
			t.Fatalf("LimitOrder: %v", err)
		}
	}
	h, _ := ex.Holdings(a.Key())
	assertDec(t, "cash", h.Cash, decimal.New(-15, -1))
	assertDec(t, "fees", ex.FeesCollected(), decimal.New(15, -1))
}

func TestPlaceOrder_NormalizesSymbol(t *testing.T) {
	s, ex := newTestMarket(t, unitTicks(), "AAAA")
	a := newTestAgent(ex)

	meta := ex.Arena().Stamp(domain.KindOrder)
	o := domain.NewOrder(domain.OrderID(meta.Key().ID), " aaaa", a.Key(), domain.Buy, 5, 2, domain.NoExpiry, s.Now())
	if err := ex.PlaceOrder(o); err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	if o.Symbol != "AAAA" {
		t.Errorf("Symbol = %q, want AAAA", o.Symbol)
	}
	s.Advance()
	if book, ok := ex.PublicInfo()["AAAA"]; !ok || len(book.Bids) != 1 {
		t.Errorf("AAAA book = %+v, want the placed bid", book)
	}

	big := domain.NewOrder(domain.OrderID(meta.Key().ID+1), "AAAA", a.Key(), domain.Sell, 5, math.MaxInt64+1, domain.NoExpiry, s.Now())
	var ve *domain.ValidationError
	if err := ex.PlaceOrder(big); !errors.As(err, &ve) {
		t.Errorf("oversized order err = %v, want ValidationError", err)
	}
}

func TestOrderEntry_Errors(t *testing.T) {
	_, ex := newTestMarket(t, unitTicks(), "AAAA")
	a := newTestAgent(ex)
	stranger := domain.Key{Kind: domain.KindAgent, ID: 999}

	tests := []struct {
		name    string
		place   func() error
		wantIs  error
		wantVal bool
	}{
		{
			name: "unknown symbol",
			place: func() error {
				_, err := ex.LimitOrder(a.Key(), "ZZZZ", domain.Buy, dec(1), 1, domain.NoExpiry)
				return err
			},
			wantIs: domain.ErrUnknownSymbol,
		},
		{
			name: "unregistered agent",
			place: func() error {
				_, err := ex.MarketOrder(stranger, "AAAA", domain.Buy, 1, domain.NoExpiry)
				return err
			},
			wantIs: domain.ErrAgentNotRegistered,
		},
		{
			name: "zero size",
			place: func() error {
				_, err := ex.MarketOrder(a.Key(), "AAAA", domain.Sell, 0, domain.NoExpiry)
				return err
			},
			wantVal: true,
		},
		{
			name: "size beyond the largest position",
			place: func() error {
				_, err := ex.LimitOrder(a.Key(), "AAAA", domain.Buy, dec(10), math.MaxInt64+2, domain.NoExpiry)
				return err
			},
			wantVal: true,
		},
		{
			name: "price beyond the tick range",
			place: func() error {
				_, err := ex.LimitOrder(a.Key(), "AAAA", domain.Sell, decimal.RequireFromString("1e21"), 1, domain.NoExpiry)
				return err
			},
			wantVal: true,
		},
		{
			name: "price below one tick",
			place: func() error {
				_, err := ex.LimitOrder(a.Key(), "AAAA", domain.Buy, decimal.New(4, -1), 1, domain.NoExpiry)
				return err
			},
			wantVal: true,
		},
		{
			name: "bad expiry",
			place: func() error {
				_, err := ex.LimitOrder(a.Key(), "AAAA", domain.Buy, dec(1), 1, -2)
				return err
			},
			wantVal: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.place()
			if err == nil {
				t.Fatal("expected an error")
			}
			if tc.wantIs != nil && !errors.Is(err, tc.wantIs) {
				t.Errorf("err = %v, want %v", err, tc.wantIs)
			}
			var ve *domain.ValidationError
			if tc.wantVal && !errors.As(err, &ve) {
				t.Errorf("err = %v, want ValidationError", err)
			}
		})
	}
}

func TestLimitOrder_QuantizesPrice(t *testing.T) {
	s, ex := newTestMarket(t, Config{TickSize: decimal.New(5, -2)}, "AAAA")
	a := newTestAgent(ex)

	id, err := ex.LimitOrder(a.Key(), "AAAA", domain.Buy, decimal.RequireFromString("10.024"), 1, domain.NoExpiry)
	if err != nil {
		t.Fatalf("LimitOrder: %v", err)
	}
	s.Advance()
	bids := ex.PublicInfo()["AAAA"].Bids
	if len(bids) != 1 || bids[0].ID != id || !bids[0].Price.Equal(decimal.RequireFromString("10.00")) {
		t.Errorf("bids = %+v, want one bid at 10.00", bids)
	}
}

func TestCancel(t *testing.T) {
	s, ex := newTestMarket(t, unitTicks(), "AAAA")
	owner, other := newTestAgent(ex), newTestAgent(ex)

	id, _ := ex.LimitOrder(owner.Key(), "AAAA", domain.Buy, dec(5), 1, domain.NoExpiry)
	s.Advance()

	if ex.Cancel(other.Key(), id) {
		t.Error("cancelling someone else's order should be a no-op")
	}
	if !ex.Cancel(owner.Key(), id) {
		t.Fatal("owner cancel should succeed")
	}
	if ex.Cancel(owner.Key(), id) {
		t.Error("cancelling a voided order should be a no-op")
	}
	if ex.Cancel(owner.Key(), 12345) {
		t.Error("cancelling an unknown order should be a no-op")
	}
	s.Advance()
	if len(ex.PublicInfo()["AAAA"].Bids) != 0 {
		t.Error("cancelled order still on the book")
	}
}

func TestPublicInfo_CachedAndInvalidatedByBookUpdate(t *testing.T) {
	_, ex := newTestMarket(t, unitTicks(), "AAAA")
	a := newTestAgent(ex)

	first := ex.PublicInfo()
	if reflect.ValueOf(first).Pointer() != reflect.ValueOf(ex.PublicInfo()).Pointer() {
		t.Error("PublicInfo recomputed within the same tick")
	}

	id, _ := ex.LimitOrder(a.Key(), "AAAA", domain.Buy, dec(7), 2, domain.NoExpiry)
	if len(ex.PublicInfo()["AAAA"].Bids) != 0 {
		t.Fatal("pending orders must not be visible before the book updates")
	}

	book, _ := ex.Book("AAAA")
	book.Update()
	bids := ex.PublicInfo()["AAAA"].Bids
	if len(bids) != 1 || bids[0].ID != id || bids[0].Size != 2 {
		t.Errorf("bids after same-tick book update = %+v", bids)
	}
}

func TestPublicInfo_BestLast(t *testing.T) {
	s, ex := newTestMarket(t, unitTicks(), "AAAA")
	a, b := newTestAgent(ex), newTestAgent(ex)

	for _, p := range []int64{5, 7, 6} {
		ex.LimitOrder(a.Key(), "AAAA", domain.Buy, dec(p), 1, domain.NoExpiry)
		ex.LimitOrder(b.Key(), "AAAA", domain.Sell, dec(p+10), 1, domain.NoExpiry)
	}
	s.Advance()

	info := ex.PublicInfo()["AAAA"]
	if got := info.Bids[len(info.Bids)-1].Price; !got.Equal(dec(7)) {
		t.Errorf("best bid = %s, want 7", got)
	}
	if got := info.Asks[len(info.Asks)-1].Price; !got.Equal(dec(15)) {
		t.Errorf("best ask = %s, want 15", got)
	}
}

func TestHoldings(t *testing.T) {
	_, ex := newTestMarket(t, unitTicks(), "AAAA", "BBBB")
	a := newTestAgent(ex)

	h, err := ex.Holdings(a.Key())
	if err != nil {
		t.Fatalf("Holdings: %v", err)
	}
	if len(h.Positions) != 2 || h.Position("bbbb") != 0 || !h.Cash.IsZero() {
		t.Errorf("fresh holdings = %+v", h)
	}
	if ex.Holding(a.Key(), "NEVER") != 0 {
		t.Error("never-held symbol should read as zero")
	}
	if _, err := ex.Holdings(domain.Key{Kind: domain.KindAgent, ID: 42}); !errors.Is(err, domain.ErrAgentNotRegistered) {
		t.Errorf("unknown agent err = %v", err)
	}
}

func TestSubscribe_EventOrderAndAnonymity(t *testing.T) {
	s, ex := newTestMarket(t, unitTicks(), "AAAA")
	seller, buyer := newTestAgent(ex), newTestAgent(ex)
	sub := ex.Subscribe(domain.Key{Kind: domain.KindObserver, ID: 0}, 16)

	askID, _ := ex.LimitOrder(seller.Key(), "AAAA", domain.Sell, dec(10), 5, domain.NoExpiry)
	s.Advance()
	ex.LimitOrder(buyer.Key(), "AAAA", domain.Buy, dec(12), 3, domain.NoExpiry)
	s.Advance()

	events := sub.Drain()
	if len(events) != 2 {
		t.Fatalf("events = %+v, want ask then trade", events)
	}
	if events[0].Type != domain.EventAsk || events[0].OrderID != askID || events[0].Size != 5 {
		t.Errorf("first event = %+v", events[0])
	}
	if events[1].Type != domain.EventTrade || !events[1].Price.Equal(dec(10)) || events[1].Size != 3 || events[1].OrderID != 0 {
		t.Errorf("second event = %+v", events[1])
	}
}

func TestSubscribe_DropsOnFullBufferAndUnsubscribeCloses(t *testing.T) {
	s, ex := newTestMarket(t, unitTicks(), "AAAA")
	a := newTestAgent(ex)
	key := domain.Key{Kind: domain.KindObserver, ID: 1}
	sub := ex.Subscribe(key, 1)
	if ex.Subscribe(key, 8) != sub {
		t.Error("re-subscribing should return the existing subscription")
	}

	ex.LimitOrder(a.Key(), "AAAA", domain.Buy, dec(1), 1, domain.NoExpiry)
	ex.LimitOrder(a.Key(), "AAAA", domain.Buy, dec(2), 1, domain.NoExpiry)
	s.Advance()

	if got := len(sub.Drain()); got != 1 {
		t.Errorf("delivered %d events with buffer 1, want 1", got)
	}
	if !ex.Unsubscribe(key) {
		t.Fatal("Unsubscribe should succeed")
	}
	if ex.Unsubscribe(key) {
		t.Error("second Unsubscribe should be a no-op")
	}
	if _, ok := <-sub.Events(); ok {
		t.Error("channel should be closed after Unsubscribe")
	}
}

// constDividend pays a fixed dividend every step.
type constDividend struct{ amount decimal.Decimal }

func (c constDividend) Step(*Product, domain.Tick) decimal.Decimal { return c.amount }
func (constDividend) Payout(*Product) decimal.Decimal              { return decimal.Zero }

func TestUpdate_PaysDividendsWithoutZeroingHoldings(t *testing.T) {
	s := sim.New(sim.Config{Iterations: 10})
	ex, _ := New(s.Arena(), unitTicks())
	s.Add(ex)
	ex.RegisterProduct(NewProduct(s.Arena(), "DIV", constDividend{amount: dec(2)}))
	long, short := newTestAgent(ex), newTestAgent(ex)
	ex.accounts[long.Key()].addPosition("DIV", 10)
	ex.accounts[short.Key()].addPosition("DIV", -4)
	_ = s.Start()

	s.Advance() // product accrues
	s.Advance() // exchange pays, product accrues again

	assertDec(t, "long cash", ex.accounts[long.Key()].Cash(), dec(20))
	assertDec(t, "short cash", ex.accounts[short.Key()].Cash(), dec(-8))
	if ex.Holding(long.Key(), "DIV") != 10 {
		t.Error("dividend must not change holdings")
	}

	s.Finish() // pays the last accrual before payout
	assertDec(t, "long cash after finish", ex.accounts[long.Key()].Cash(), dec(40))
}

func TestPayoutForHoldings_RunsOnceOnFinish(t *testing.T) {
	s := sim.New(sim.Config{Iterations: 10})
	ex, _ := New(s.Arena(), unitTicks())
	s.Add(ex)
	ex.RegisterProduct(NewProduct(s.Arena(), "FIX", Fixed{Value: dec(7)}))
	long, short := newTestAgent(ex), newTestAgent(ex)
	ex.accounts[long.Key()].addPosition("FIX", 10)
	ex.accounts[short.Key()].addPosition("FIX", -10)
	_ = s.Start()

	s.Finish()
	ex.OnFinish()

	assertDec(t, "long cash", ex.accounts[long.Key()].Cash(), dec(70))
	assertDec(t, "short cash", ex.accounts[short.Key()].Cash(), dec(-70))
	if ex.Holding(long.Key(), "FIX") != 0 || ex.Holding(short.Key(), "FIX") != 0 {
		t.Error("payout must zero holdings")
	}
}

func TestMarkedPnL(t *testing.T) {
	s, ex := newTestMarket(t, unitTicks(), "AAAA")
	holder, mm := newTestAgent(ex), newTestAgent(ex)
	ex.accounts[holder.Key()].addPosition("AAAA", 10)
	ex.accounts[holder.Key()].addCash(dec(5))

	pnl, _ := ex.MarkedPnL(holder.Key(), MarkMid)
	assertDec(t, "empty book mid pnl", pnl, dec(5))

	ex.LimitOrder(mm.Key(), "AAAA", domain.Buy, dec(8), 1, domain.NoExpiry)
	askID, _ := ex.LimitOrder(mm.Key(), "AAAA", domain.Sell, dec(13), 1, domain.NoExpiry)
	s.Advance()

	pnl, _ = ex.MarkedPnL(holder.Key(), MarkMid)
	assertDec(t, "mid pnl", pnl, dec(110))

	ex.Cancel(mm.Key(), askID)
	s.Advance()
	pnl, _ = ex.MarkedPnL(holder.Key(), MarkMid)
	assertDec(t, "one-sided mid pnl", pnl, dec(85))

	pnl, _ = ex.MarkedPnL(holder.Key(), MarkLast)
	assertDec(t, "last pnl without trades", pnl, dec(5))
	pnl, _ = ex.MarkedPnL(holder.Key(), MarkZero)
	assertDec(t, "zero pnl", pnl, dec(5))

	if _, err := ex.MarkedPnL(domain.Key{Kind: domain.KindAgent, ID: 77}, MarkMid); !errors.Is(err, domain.ErrAgentNotRegistered) {
		t.Errorf("unknown agent err = %v", err)
	}
}

func TestParseMarker(t *testing.T) {
	for _, m := range []Marker{MarkMid, MarkLast, MarkPayout, MarkZero} {
		got, err := ParseMarker(m.String())
		if err != nil || got != m {
			t.Errorf("ParseMarker(%q) = %v, %v", m.String(), got, err)
		}
	}
	if _, err := ParseMarker("vwap"); err == nil {
		t.Error("unknown marker should fail")
	}
}

func TestProduct_TradesSince(t *testing.T) {
	p := NewProduct(sim.NewArena(nil), "x", nil)
	for i := int64(1); i <= 3; i++ {
		p.recordTrade(domain.Trade{Symbol: "X", Price: dec(i), Size: 1})
	}
	got, cursor := p.TradesSince(1)
	if len(got) != 2 || cursor != 3 || !got[0].Price.Equal(dec(2)) {
		t.Errorf("TradesSince(1) = %+v, %d", got, cursor)
	}
	if got, cursor := p.TradesSince(cursor); got != nil || cursor != 3 {
		t.Errorf("TradesSince(3) = %+v, %d", got, cursor)
	}
	if p.Symbol() != "X" || p.TradeCount() != 3 {
		t.Errorf("symbol=%s count=%d", p.Symbol(), p.TradeCount())
	}
}
