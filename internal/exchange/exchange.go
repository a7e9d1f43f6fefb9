// Package exchange settles trades into accounts, pays dividends and
// payouts, and publishes market data for the books it owns.
//
// All mutating methods run on the scheduler goroutine. Subscribe and
// Unsubscribe are safe from any goroutine.
package exchange

import (
	"fmt"
	"log/slog"
	"math"
	"sync"

	"github.com/efreitasn/marketsim/internal/domain"
	"github.com/efreitasn/marketsim/internal/engine"
	"github.com/efreitasn/marketsim/internal/metrics"
	"github.com/efreitasn/marketsim/internal/sim"
	"github.com/shopspring/decimal"
)

// Agent is a market participant as seen by an exchange.
type Agent interface {
	Key() domain.Key
}

// Registrant is implemented by agents that want to know which exchanges
// they were registered with.
type Registrant interface {
	OnRegister(ex *Exchange)
}

// TradeObserver is implemented by agents that react to their own fills.
type TradeObserver interface {
	OnExecutedTrade(symbol string, side domain.Side, price decimal.Decimal, size uint64)
}

// Config holds exchange settings.
type Config struct {
	TickSize decimal.Decimal
	OrderFee decimal.Decimal
	Logger   *slog.Logger
}

// DefaultConfig returns a 0.05 tick size and no order fee.
func DefaultConfig() Config {
	return Config{
		TickSize: decimal.New(5, -2),
		OrderFee: decimal.Zero,
	}
}

// Exchange owns one order book and product per symbol and one account
// per agent.
type Exchange struct {
	sim.Meta
	cfg    Config
	logger *slog.Logger
	arena  *sim.Arena
	sched  *sim.Scheduler

	symbols  []string // registration order
	products map[string]*Product
	books    map[string]*engine.OrderBook

	agentKeys []domain.Key // registration order
	agents    map[domain.Key]Agent
	accounts  map[domain.Key]*Account

	subMu sync.Mutex
	subs  []*Subscription

	info    infoCache
	fees    decimal.Decimal
	paidOut bool
}

// New creates an exchange whose entities are stamped from arena.
func New(arena *sim.Arena, cfg Config) (*Exchange, error) {
	def := DefaultConfig()
	if cfg.TickSize.IsZero() {
		cfg.TickSize = def.TickSize
	}
	if !cfg.TickSize.IsPositive() {
		return nil, domain.ErrInvalidTickSize
	}
	if cfg.OrderFee.IsNegative() {
		return nil, &domain.ValidationError{Message: "order fee must not be negative"}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ex := &Exchange{
		Meta:     arena.Stamp(domain.KindExchange),
		cfg:      cfg,
		arena:    arena,
		products: make(map[string]*Product),
		books:    make(map[string]*engine.OrderBook),
		agents:   make(map[domain.Key]Agent),
		accounts: make(map[domain.Key]*Account),
		fees:     decimal.Zero,
	}
	ex.logger = logger.With(slog.String("exchange", ex.Key().String()))
	arena.Put(ex.Key(), ex)
	return ex, nil
}

// TickSize returns the price quantization unit.
func (ex *Exchange) TickSize() decimal.Decimal { return ex.cfg.TickSize }

// OrderFee returns the flat fee debited per order.
func (ex *Exchange) OrderFee() decimal.Decimal { return ex.cfg.OrderFee }

// Arena returns the arena the exchange stamps orders from.
func (ex *Exchange) Arena() *sim.Arena { return ex.arena }

// Now returns the current tick.
func (ex *Exchange) Now() domain.Tick { return ex.arena.Now() }

// Attach records the scheduler the exchange was added to.
func (ex *Exchange) Attach(s *sim.Scheduler) { ex.sched = s }

// Dependents returns the products and books, in registration order.
func (ex *Exchange) Dependents() []sim.Entity {
	out := make([]sim.Entity, 0, 2*len(ex.symbols))
	for _, sym := range ex.symbols {
		out = append(out, ex.products[sym], ex.books[sym])
	}
	return out
}

// TimeRemaining returns the ticks left in the run, 0 when detached.
func (ex *Exchange) TimeRemaining() int64 {
	if ex.sched == nil {
		return 0
	}
	return ex.sched.TimeRemaining()
}

// IsOpen reports whether the run has started and not finished.
func (ex *Exchange) IsOpen() bool {
	return ex.sched != nil && ex.sched.IsOpen()
}

// RegisterProduct lists p and creates its order book. It returns false
// if the symbol was already listed.
func (ex *Exchange) RegisterProduct(p *Product) bool {
	if _, ok := ex.products[p.symbol]; ok {
		return false
	}
	book := engine.NewOrderBook(ex.arena.Stamp(domain.KindOrderBook), p.symbol, ex)
	ex.arena.Put(book.Key(), book)

	p.exchange = ex
	ex.symbols = append(ex.symbols, p.symbol)
	ex.products[p.symbol] = p
	ex.books[p.symbol] = book
	ex.info.valid = false

	if ex.sched != nil {
		ex.sched.Add(p)
		ex.sched.Add(book)
	}
	ex.logger.Debug("product registered", slog.String("symbol", p.symbol))
	return true
}

// RegisterAgent opens an account for a. It returns false if a already
// has one. Registrants are told about the exchange on first registration.
func (ex *Exchange) RegisterAgent(a Agent) bool {
	key := a.Key()
	if _, ok := ex.accounts[key]; ok {
		return false
	}
	ex.agentKeys = append(ex.agentKeys, key)
	ex.agents[key] = a
	ex.accounts[key] = newAccount(key)

	if r, ok := a.(Registrant); ok {
		r.OnRegister(ex)
	}
	ex.logger.Debug("agent registered", slog.String("agent", key.String()))
	return true
}

// Symbols returns the listed symbols in registration order.
func (ex *Exchange) Symbols() []string {
	out := make([]string, len(ex.symbols))
	copy(out, ex.symbols)
	return out
}

// Trades reports whether symbol is listed.
func (ex *Exchange) Trades(symbol string) bool {
	_, ok := ex.products[domain.NormalizeSymbol(symbol)]
	return ok
}

// Product returns the listed product for symbol.
func (ex *Exchange) Product(symbol string) (*Product, bool) {
	p, ok := ex.products[domain.NormalizeSymbol(symbol)]
	return p, ok
}

// Book returns the order book for symbol.
func (ex *Exchange) Book(symbol string) (*engine.OrderBook, bool) {
	b, ok := ex.books[domain.NormalizeSymbol(symbol)]
	return b, ok
}

// Agents returns the registered agent keys in registration order.
func (ex *Exchange) Agents() []domain.Key {
	out := make([]domain.Key, len(ex.agentKeys))
	copy(out, ex.agentKeys)
	return out
}

// Agent returns the registered agent with key.
func (ex *Exchange) Agent(key domain.Key) (Agent, bool) {
	a, ok := ex.agents[key]
	return a, ok
}

// Registered reports whether agent has an account.
func (ex *Exchange) Registered(agent domain.Key) bool {
	_, ok := ex.accounts[agent]
	return ok
}

// Holdings returns a snapshot of agent's cash and its position in every
// listed symbol.
func (ex *Exchange) Holdings(agent domain.Key) (domain.Holdings, error) {
	acct, ok := ex.accounts[agent]
	if !ok {
		return domain.Holdings{}, domain.ErrAgentNotRegistered
	}
	return acct.Holdings(ex.symbols), nil
}

// Holding returns agent's position in symbol. Unknown agents and never
// held symbols read as zero.
func (ex *Exchange) Holding(agent domain.Key, symbol string) int64 {
	acct, ok := ex.accounts[agent]
	if !ok {
		return 0
	}
	return acct.Position(domain.NormalizeSymbol(symbol))
}

// TotalCash sums cash over all accounts.
func (ex *Exchange) TotalCash() decimal.Decimal {
	total := decimal.Zero
	for _, k := range ex.agentKeys {
		total = total.Add(ex.accounts[k].Cash())
	}
	return total
}

// TotalPosition sums the net position in symbol over all accounts.
func (ex *Exchange) TotalPosition(symbol string) int64 {
	symbol = domain.NormalizeSymbol(symbol)
	var total int64
	for _, k := range ex.agentKeys {
		total += ex.accounts[k].Position(symbol)
	}
	return total
}

// TotalOutstanding sums the long positions in symbol over all accounts.
func (ex *Exchange) TotalOutstanding(symbol string) int64 {
	symbol = domain.NormalizeSymbol(symbol)
	var total int64
	for _, k := range ex.agentKeys {
		if q := ex.accounts[k].Position(symbol); q > 0 {
			total += q
		}
	}
	return total
}

// FeesCollected returns the total of order fees debited so far.
func (ex *Exchange) FeesCollected() decimal.Decimal { return ex.fees }

func (ex *Exchange) price(t domain.Ticks) decimal.Decimal {
	return domain.TicksToPrice(t, ex.cfg.TickSize)
}

// PlaceOrder debits the sender's order fee and queues o on its book.
// The order's symbol is normalized in place.
func (ex *Exchange) PlaceOrder(o *domain.Order) error {
	if err := checkSize(o.Remaining); err != nil {
		return err
	}
	o.Symbol = domain.NormalizeSymbol(o.Symbol)
	book, ok := ex.books[o.Symbol]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrUnknownSymbol, o.Symbol)
	}
	acct, ok := ex.accounts[o.Sender]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrAgentNotRegistered, o.Sender)
	}
	if ex.cfg.OrderFee.IsPositive() {
		acct.addCash(ex.cfg.OrderFee.Neg())
		ex.fees = ex.fees.Add(ex.cfg.OrderFee)
	}
	ex.arena.Put(o.ID.Key(), o)
	book.Place(o)
	metrics.OrdersPlacedTotal.WithLabelValues(o.Side.String()).Inc()
	return nil
}

// LimitOrder quantizes price to the tick size, creates an order for
// sender and places it.
func (ex *Exchange) LimitOrder(sender domain.Key, symbol string, side domain.Side, price decimal.Decimal, size uint64, framesToExpire int) (domain.OrderID, error) {
	ticks, err := domain.QuantizeLimit(price, ex.cfg.TickSize)
	if err != nil {
		return 0, err
	}
	return ex.submit(sender, symbol, side, ticks, size, framesToExpire)
}

// MarketOrder creates a market order for sender and places it. It fills
// what it can on the next book update and is cancelled otherwise.
func (ex *Exchange) MarketOrder(sender domain.Key, symbol string, side domain.Side, size uint64, framesToExpire int) (domain.OrderID, error) {
	price := domain.MarketSellPrice
	if side == domain.Buy {
		price = domain.MarketBuyPrice
	}
	return ex.submit(sender, symbol, side, price, size, framesToExpire)
}

func (ex *Exchange) submit(sender domain.Key, symbol string, side domain.Side, price domain.Ticks, size uint64, framesToExpire int) (domain.OrderID, error) {
	if side != domain.Buy && side != domain.Sell {
		return 0, &domain.ValidationError{Message: "side must be buy or sell"}
	}
	if err := checkSize(size); err != nil {
		return 0, err
	}
	if framesToExpire < domain.NoExpiry {
		return 0, &domain.ValidationError{Message: "frames to expire must be -1 or greater"}
	}
	symbol = domain.NormalizeSymbol(symbol)
	if _, ok := ex.books[symbol]; !ok {
		return 0, fmt.Errorf("%w: %s", domain.ErrUnknownSymbol, symbol)
	}
	if _, ok := ex.accounts[sender]; !ok {
		return 0, fmt.Errorf("%w: %s", domain.ErrAgentNotRegistered, sender)
	}

	meta := ex.arena.Stamp(domain.KindOrder)
	o := domain.NewOrder(domain.OrderID(meta.Key().ID), symbol, sender, side, price, size, framesToExpire, meta.CreatedAt())
	if err := ex.PlaceOrder(o); err != nil {
		return 0, err
	}
	return o.ID, nil
}

// checkSize rejects sizes that settlement cannot carry as a position.
func checkSize(size uint64) error {
	if size == 0 {
		return &domain.ValidationError{Message: "size must be a positive integer"}
	}
	if size > math.MaxInt64 {
		return &domain.ValidationError{Message: "size exceeds the largest position"}
	}
	return nil
}

// Order returns a pending or resting order by ID.
func (ex *Exchange) Order(id domain.OrderID) (*domain.Order, bool) {
	return sim.Lookup[*domain.Order](ex.arena, id.Key())
}

// Cancel cancels sender's order id. It returns false when the order is
// unknown, owned by another agent or already voided.
func (ex *Exchange) Cancel(sender domain.Key, id domain.OrderID) bool {
	o, ok := ex.Order(id)
	if !ok || o.Sender != sender {
		return false
	}
	book, ok := ex.books[o.Symbol]
	if !ok || !book.Cancel(id) {
		return false
	}
	metrics.OrdersCancelledTotal.Inc()
	return true
}

// ExecuteTrade settles a match: the buyer pays price × size to the
// seller and receives size units. It is the only path that moves cash
// and positions between accounts.
func (ex *Exchange) ExecuteTrade(symbol string, price domain.Ticks, size uint64, buyer, seller domain.Key) {
	buyAcct, sellAcct := ex.accounts[buyer], ex.accounts[seller]
	if buyAcct == nil || sellAcct == nil {
		panic(fmt.Sprintf("exchange: trade between unregistered agents %s and %s", buyer, seller))
	}

	t := domain.Trade{
		Symbol: symbol,
		Price:  ex.price(price),
		Size:   size,
		Buyer:  buyer,
		Seller: seller,
		Time:   ex.arena.Now(),
	}
	notional := t.Notional()
	qty := int64(size)

	buyAcct.addCash(notional.Neg())
	buyAcct.addPosition(symbol, qty)
	sellAcct.addCash(notional)
	sellAcct.addPosition(symbol, -qty)
	ex.products[symbol].recordTrade(t)

	metrics.TradesTotal.WithLabelValues(symbol).Inc()
	metrics.VolumeTotal.WithLabelValues(symbol).Add(float64(size))

	if obs, ok := ex.agents[buyer].(TradeObserver); ok {
		obs.OnExecutedTrade(symbol, domain.Buy, t.Price, size)
	}
	if obs, ok := ex.agents[seller].(TradeObserver); ok {
		obs.OnExecutedTrade(symbol, domain.Sell, t.Price, size)
	}
	ex.publish(domain.Event{
		Type:   domain.EventTrade,
		Symbol: symbol,
		Price:  t.Price,
		Size:   size,
		Time:   t.Time,
	})
}

// PublishOrder announces an order that made it onto a book.
func (ex *Exchange) PublishOrder(o *domain.Order) {
	typ := domain.EventBid
	if o.IsAsk() {
		typ = domain.EventAsk
	}
	ex.publish(domain.Event{
		Type:    typ,
		Symbol:  o.Symbol,
		Price:   ex.price(o.Price),
		Size:    o.Remaining,
		OrderID: o.ID,
		Time:    ex.arena.Now(),
	})
}

// BookChanged drops the cached public info.
func (ex *Exchange) BookChanged(string) {
	ex.info.valid = false
}

// Update pays the dividends accrued by products since the last update.
func (ex *Exchange) Update() {
	ex.payDividends()
}

func (ex *Exchange) payDividends() {
	for _, sym := range ex.symbols {
		p := ex.products[sym]
		div := p.Dividend()
		if !div.IsPositive() {
			continue
		}
		for _, k := range ex.agentKeys {
			acct := ex.accounts[k]
			if q := acct.Position(sym); q != 0 {
				acct.addCash(div.Mul(decimal.NewFromInt(q)))
			}
		}
		p.clearDividend()
		ex.logger.Debug("dividend paid", slog.String("symbol", sym), slog.String("per_unit", div.String()))
	}
}

// PayoutForHoldings liquidates every position at its product's payout
// value. All payout values are taken before any position is zeroed.
func (ex *Exchange) PayoutForHoldings() {
	values := make(map[string]decimal.Decimal, len(ex.symbols))
	for _, sym := range ex.symbols {
		values[sym] = ex.products[sym].Payout()
	}
	for _, sym := range ex.symbols {
		v := values[sym]
		for _, k := range ex.agentKeys {
			acct := ex.accounts[k]
			q := acct.Position(sym)
			if q == 0 {
				continue
			}
			acct.addCash(v.Mul(decimal.NewFromInt(q)))
			acct.addPosition(sym, -q)
		}
		ex.logger.Info("payout settled", slog.String("symbol", sym), slog.String("value", v.String()))
	}
}

// OnFinish settles outstanding dividends and runs the terminal payout
// once.
func (ex *Exchange) OnFinish() {
	if ex.paidOut {
		return
	}
	ex.paidOut = true
	ex.payDividends()
	ex.PayoutForHoldings()
}
