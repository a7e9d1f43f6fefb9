package store

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/efreitasn/marketsim/internal/domain"
	"github.com/efreitasn/marketsim/internal/exchange"
	"github.com/efreitasn/marketsim/internal/metrics"
	"github.com/efreitasn/marketsim/internal/sim"
)

// RecorderTier places the recorder after every exchange, book and agent
// so it sees all trades of a tick.
const RecorderTier = 100

// RecorderConfig configures a Recorder.
type RecorderConfig struct {
	Buffer  int           // batches queued before new ones are dropped
	Timeout time.Duration // per-batch write timeout
	Logger  *slog.Logger
}

// DefaultRecorderConfig returns sensible defaults.
func DefaultRecorderConfig() RecorderConfig {
	return RecorderConfig{
		Buffer:  1024,
		Timeout: 5 * time.Second,
	}
}

type batch struct {
	tick   domain.Tick
	trades []domain.Trade
}

// Recorder is a simulation entity that copies each tick's new trades to
// a TradeLog. Writes happen on a worker goroutine; a full queue drops
// the batch instead of stalling the tick.
type Recorder struct {
	sim.Meta
	runID  uuid.UUID
	log    TradeLog
	cfg    RecorderConfig
	logger *slog.Logger

	exchanges []*exchange.Exchange
	cursors   map[domain.Key]int
	all       []domain.Trade

	queue     chan batch
	wg        sync.WaitGroup
	closeOnce sync.Once
	closed    bool
	digest    string
}

// NewRecorder creates a recorder for runID and starts its worker.
func NewRecorder(arena *sim.Arena, runID uuid.UUID, log TradeLog, cfg RecorderConfig) *Recorder {
	def := DefaultRecorderConfig()
	if cfg.Buffer <= 0 {
		cfg.Buffer = def.Buffer
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := &Recorder{
		Meta:    arena.Stamp(domain.KindObserver),
		runID:   runID,
		log:     log,
		cfg:     cfg,
		logger:  logger.With(slog.String("run_id", runID.String())),
		cursors: make(map[domain.Key]int),
		queue:   make(chan batch, cfg.Buffer),
	}
	r.SetTier(RecorderTier)

	r.wg.Add(1)
	go r.worker()
	return r
}

// Watch adds an exchange whose products are recorded.
func (r *Recorder) Watch(ex *exchange.Exchange) {
	r.exchanges = append(r.exchanges, ex)
}

// RunID returns the run the recorder writes under.
func (r *Recorder) RunID() uuid.UUID { return r.runID }

// Trades returns every trade collected so far, in recording order.
func (r *Recorder) Trades() []domain.Trade {
	out := make([]domain.Trade, len(r.all))
	copy(out, r.all)
	return out
}

// Digest returns the run digest computed at finish, or "" before that.
func (r *Recorder) Digest() string { return r.digest }

// Update collects trades executed since the previous update.
func (r *Recorder) Update() {
	r.collect()
}

func (r *Recorder) collect() {
	var fresh []domain.Trade
	for _, ex := range r.exchanges {
		for _, sym := range ex.Symbols() {
			p, ok := ex.Product(sym)
			if !ok {
				continue
			}
			trades, next := p.TradesSince(r.cursors[p.Key()])
			r.cursors[p.Key()] = next
			fresh = append(fresh, trades...)
		}
	}
	if len(fresh) == 0 {
		return
	}
	r.all = append(r.all, fresh...)
	if r.closed {
		return
	}

	select {
	case r.queue <- batch{tick: fresh[len(fresh)-1].Time, trades: fresh}:
	default:
		metrics.TradeLogWrites.WithLabelValues("dropped").Inc()
		r.logger.Warn("trade log queue full, batch dropped", slog.Int("trades", len(fresh)))
	}
}

// OnFinish collects trades settled during the last tick, drains the
// queue and logs the run digest.
func (r *Recorder) OnFinish() {
	r.collect()
	r.Close()

	digest, err := Digest(r.all)
	if err != nil {
		r.logger.Error("failed to compute run digest", slog.Any("error", err))
		return
	}
	r.digest = digest
	r.logger.Info("run recorded",
		slog.Int("trades", len(r.all)),
		slog.String("digest", digest),
	)
}

// Close stops accepting batches and waits for queued ones to be written.
// Trades collected afterwards still count toward the digest. It is safe
// to call more than once.
func (r *Recorder) Close() {
	r.closeOnce.Do(func() {
		r.closed = true
		close(r.queue)
		r.wg.Wait()
	})
}

func (r *Recorder) worker() {
	defer r.wg.Done()
	for b := range r.queue {
		ctx, cancel := context.WithTimeout(context.Background(), r.cfg.Timeout)
		err := r.log.Append(ctx, r.runID, b.trades...)
		cancel()
		if err != nil {
			metrics.TradeLogWrites.WithLabelValues("error").Inc()
			r.logger.Error("failed to write trades",
				slog.Int64("tick", int64(b.tick)),
				slog.Int("trades", len(b.trades)),
				slog.Any("error", err),
			)
			continue
		}
		metrics.TradeLogWrites.WithLabelValues("ok").Inc()
	}
}
