package bars

import (
	"context"
	"fmt"
	"sync"
	"time"

	kiteconnect "github.com/zerodha/gokiteconnect/v4"
	"github.com/zerodha/gokiteconnect/v4/models"
	kiteticker "github.com/zerodha/gokiteconnect/v4/ticker"

	"vwap-band-bot/internal/interfaces"
	"vwap-band-bot/internal/logger"
	"vwap-band-bot/internal/types"
)

// KiteFeed streams live minute bars for one symbol over the Kite WebSocket.
// Raw ticks are aggregated into 1-minute OHLCV bars; a bar is emitted when
// the first tick of the next minute arrives.
type KiteFeed struct {
	apiKey      string
	accessToken string
	exchange    string

	kc     *kiteconnect.Client
	ticker *kiteticker.Ticker

	mu      sync.Mutex
	token   uint32
	current *barBuilder
	out     chan types.Bar
	closed  bool

	stopOnce sync.Once
}

// barBuilder accumulates ticks for the minute being built. VolumeTraded on a
// tick is the cumulative session volume, so per-bar volume is a difference.
type barBuilder struct {
	minute   int64
	open     float64
	high     float64
	low      float64
	close    float64
	startVol float64
	endVol   float64
}

var _ interfaces.BarFeed = (*KiteFeed)(nil)

func NewKiteFeed(apiKey, accessToken, exchange string) *KiteFeed {
	if exchange == "" {
		exchange = "NSE"
	}
	return &KiteFeed{
		apiKey:      apiKey,
		accessToken: accessToken,
		exchange:    exchange,
	}
}

// Start resolves the instrument token, connects the WebSocket and begins
// streaming aggregated bars. The channel is closed on Stop.
func (kf *KiteFeed) Start(ctx context.Context, symbol string) (<-chan types.Bar, error) {
	kf.kc = kiteconnect.New(kf.apiKey)
	kf.kc.SetAccessToken(kf.accessToken)

	token, err := kf.resolveToken(symbol)
	if err != nil {
		return nil, err
	}
	kf.token = token
	kf.out = make(chan types.Bar, 16)

	kf.ticker = kiteticker.New(kf.apiKey, kf.accessToken)
	kf.ticker.OnConnect(func() {
		logger.Info(ctx, "Ticker connected", "symbol", symbol, "token", token)
		if err := kf.ticker.Subscribe([]uint32{token}); err != nil {
			logger.ErrorWithErr(ctx, "Ticker subscribe failed", err, "symbol", symbol)
			return
		}
		if err := kf.ticker.SetMode(kiteticker.ModeFull, []uint32{token}); err != nil {
			logger.ErrorWithErr(ctx, "Ticker mode change failed", err, "symbol", symbol)
		}
	})
	kf.ticker.OnError(func(err error) {
		logger.ErrorWithErr(ctx, "Ticker error", err, "symbol", symbol)
	})
	kf.ticker.OnClose(func(code int, reason string) {
		logger.Warn(ctx, "Ticker connection closed", "code", code, "reason", reason)
	})
	kf.ticker.OnReconnect(func(attempt int, delay time.Duration) {
		logger.Info(ctx, "Ticker reconnecting", "attempt", attempt, "delay", delay)
	})
	kf.ticker.OnNoReconnect(func(attempt int) {
		logger.Warn(ctx, "Ticker gave up reconnecting", "attempts", attempt)
	})
	kf.ticker.OnTick(kf.onTick)

	go kf.ticker.Serve()

	go func() {
		<-ctx.Done()
		kf.Stop(context.Background())
	}()

	return kf.out, nil
}

// Stop disconnects the WebSocket, flushes the partial bar and closes the
// stream.
func (kf *KiteFeed) Stop(ctx context.Context) {
	kf.stopOnce.Do(func() {
		if kf.ticker != nil {
			kf.ticker.Stop()
		}
		kf.mu.Lock()
		if kf.current != nil {
			kf.emitLocked(kf.current)
			kf.current = nil
		}
		kf.closed = true
		close(kf.out)
		kf.mu.Unlock()
	})
}

func (kf *KiteFeed) resolveToken(symbol string) (uint32, error) {
	instruments, err := kf.kc.GetInstrumentsByExchange(kf.exchange)
	if err != nil {
		return 0, types.Transient("instruments", err)
	}
	for _, inst := range instruments {
		if inst.Tradingsymbol == symbol {
			return uint32(inst.InstrumentToken), nil
		}
	}
	return 0, fmt.Errorf("symbol %s not listed on %s", symbol, kf.exchange)
}

// onTick folds a tick into the minute under construction and emits the
// previous minute once a new one begins.
func (kf *KiteFeed) onTick(tick models.Tick) {
	if tick.InstrumentToken != kf.token {
		return
	}
	ts := tick.Timestamp.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	minute := ts.Unix() / 60
	price := tick.LastPrice
	cumVol := float64(tick.VolumeTraded)

	kf.mu.Lock()
	defer kf.mu.Unlock()
	if kf.closed {
		return
	}

	cur := kf.current
	if cur == nil || minute > cur.minute {
		if cur != nil {
			kf.emitLocked(cur)
		}
		startVol := cumVol
		if cur != nil {
			startVol = cur.endVol
		}
		kf.current = &barBuilder{
			minute:   minute,
			open:     price,
			high:     price,
			low:      price,
			close:    price,
			startVol: startVol,
			endVol:   cumVol,
		}
		return
	}
	if minute < cur.minute {
		return // late tick for an already-emitted minute
	}

	if price > cur.high {
		cur.high = price
	}
	if price < cur.low {
		cur.low = price
	}
	cur.close = price
	cur.endVol = cumVol
}

func (kf *KiteFeed) emitLocked(b *barBuilder) {
	if kf.closed {
		return
	}
	vol := b.endVol - b.startVol
	if vol < 0 {
		vol = 0 // session volume reset, e.g. reconnect across days
	}
	bar := types.Bar{
		Ts:    b.minute * 60,
		Open:  b.open,
		High:  b.high,
		Low:   b.low,
		Close: b.close,
		Vol:   vol,
	}
	select {
	case kf.out <- bar:
	default:
		// Engine fell behind a full buffer of minutes; drop the oldest
		// rather than block the WebSocket callback.
		select {
		case <-kf.out:
		default:
		}
		select {
		case kf.out <- bar:
		default:
		}
	}
}
