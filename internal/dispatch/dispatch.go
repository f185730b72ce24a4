// Package dispatch routes recall lookups to the right manufacturer adapter
// and fronts them with the result cache.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kurumaware/recallwatch/internal/cache"
	"github.com/kurumaware/recallwatch/internal/clock/system"
	"github.com/kurumaware/recallwatch/internal/metrics"
	"github.com/kurumaware/recallwatch/internal/publisher"
	"github.com/kurumaware/recallwatch/internal/recall"
)

// Input validation errors, surfaced to the API as client errors.
var (
	ErrChassisRequired  = errors.New("chassis number is required")
	ErrMakerRequired    = errors.New("maker is required")
	ErrUnsupportedMaker = errors.New("maker is not supported")
	ErrModelRequired    = errors.New("model name and type code are required")
)

// DefaultRecallTTL is how long a resolution stays valid in the cache.
const DefaultRecallTTL = 24 * time.Hour

// Dispatcher owns the adapter set and the caching policy around it.
type Dispatcher struct {
	adapters  map[string]recall.Adapter
	registry  recall.ModelChecker
	store     *cache.Store
	clock     recall.Clock
	log       *zap.Logger
	events    publisher.Publisher
	topic     string
	recallTTL time.Duration
}

// Option tunes a Dispatcher.
type Option func(*Dispatcher)

// WithRegistry wires the government-registry model checker.
func WithRegistry(registry recall.ModelChecker) Option {
	return func(d *Dispatcher) { d.registry = registry }
}

// WithClock substitutes the time source.
func WithClock(clock recall.Clock) Option {
	return func(d *Dispatcher) { d.clock = clock }
}

// WithPublisher wires a recall-found event publisher on the given topic.
func WithPublisher(events publisher.Publisher, topic string) Option {
	return func(d *Dispatcher) {
		d.events = events
		d.topic = topic
	}
}

// WithRecallTTL overrides the cache lifetime for resolutions.
func WithRecallTTL(ttl time.Duration) Option {
	return func(d *Dispatcher) { d.recallTTL = ttl }
}

// New builds a Dispatcher over the given adapters and cache store.
func New(adapters []recall.Adapter, store *cache.Store, log *zap.Logger, opts ...Option) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	byMaker := make(map[string]recall.Adapter, len(adapters))
	for _, a := range adapters {
		byMaker[a.Maker()] = a
	}
	d := &Dispatcher{
		adapters:  byMaker,
		store:     store,
		clock:     system.New(),
		log:       log,
		recallTTL: DefaultRecallTTL,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// SupportedMakers lists the makers with a working adapter, in the canonical
// maker order.
func (d *Dispatcher) SupportedMakers() []string {
	var out []string
	for _, maker := range recall.Makers {
		if _, ok := d.adapters[maker]; ok {
			out = append(out, maker)
		}
	}
	return out
}

// CheckRecall resolves one chassis number. The maker is mandatory and is
// validated before any network traffic; a lookup against the wrong maker's
// site would return a misleading all-clear.
func (d *Dispatcher) CheckRecall(ctx context.Context, chassisNumber, maker string, bypassCache bool) (recall.Result, error) {
	chassisNumber = strings.ToUpper(strings.TrimSpace(chassisNumber))
	if chassisNumber == "" {
		return recall.Result{}, ErrChassisRequired
	}
	if maker == "" {
		return recall.Result{}, ErrMakerRequired
	}
	adapter, ok := d.adapters[maker]
	if !ok {
		return recall.Result{}, fmt.Errorf("%w: %s", ErrUnsupportedMaker, maker)
	}

	key := cacheKey(maker, chassisNumber)
	if !bypassCache {
		if result, ok := d.fromCache(ctx, key); ok {
			return result, nil
		}
	}

	result := adapter.Check(ctx, chassisNumber)

	if cacheable(result) {
		if payload, err := json.Marshal(result); err == nil {
			d.store.Put(ctx, key, payload, d.recallTTL)
		} else {
			d.log.Warn("marshaling result for cache failed", zap.String("key", key), zap.Error(err))
		}
	}
	d.publishRecallFound(ctx, result)

	return result, nil
}

// CheckRecallByModel resolves by model name and type code against the
// government registry. The walk is slow and the model/type axis is unbounded,
// so results are not cached.
func (d *Dispatcher) CheckRecallByModel(ctx context.Context, modelName, typeCode string) (recall.Result, error) {
	modelName = strings.TrimSpace(modelName)
	typeCode = strings.TrimSpace(typeCode)
	if modelName == "" || typeCode == "" {
		return recall.Result{}, ErrModelRequired
	}
	if d.registry == nil {
		return recall.Result{}, errors.New("registry lookups are not configured")
	}
	return d.registry.CheckByModel(ctx, modelName, typeCode), nil
}

// ClearCache drops the cached resolution for one chassis number, or every
// cached entry when chassisNumber is empty.
func (d *Dispatcher) ClearCache(ctx context.Context, chassisNumber, maker string) {
	chassisNumber = strings.ToUpper(strings.TrimSpace(chassisNumber))
	if chassisNumber == "" {
		d.store.InvalidateAll(ctx)
		return
	}
	if maker != "" {
		d.store.Invalidate(ctx, cacheKey(maker, chassisNumber))
		return
	}
	for m := range d.adapters {
		d.store.Invalidate(ctx, cacheKey(m, chassisNumber))
	}
}

func cacheKey(maker, chassisNumber string) string {
	return fmt.Sprintf("recall:%s:%s", maker, chassisNumber)
}

// cacheable excludes degraded results: caching a manual-check sentinel for a
// day would mask the source coming back.
func cacheable(result recall.Result) bool {
	for _, r := range result.Recalls {
		if r.RecallID == recall.ManualRecallID {
			return false
		}
	}
	return true
}

func (d *Dispatcher) fromCache(ctx context.Context, key string) (recall.Result, bool) {
	rec, ok := d.store.Get(ctx, key)
	if !ok {
		return recall.Result{}, false
	}
	var result recall.Result
	if err := json.Unmarshal(rec.Payload, &result); err != nil {
		d.log.Warn("cached payload unreadable, refetching", zap.String("key", key), zap.Error(err))
		return recall.Result{}, false
	}
	result.Cached = true
	return result, true
}

// recallFoundEvent is the payload published when a fresh lookup surfaces
// open recalls.
type recallFoundEvent struct {
	ChassisNumber string    `json:"chassisNumber"`
	Maker         string    `json:"maker"`
	RecallCount   int       `json:"recallCount"`
	CheckedAt     time.Time `json:"checkedAt"`
}

func (d *Dispatcher) publishRecallFound(ctx context.Context, result recall.Result) {
	if d.events == nil || !result.HasRecall || !cacheable(result) {
		return
	}
	payload, err := json.Marshal(recallFoundEvent{
		ChassisNumber: result.ChassisNumber,
		Maker:         result.Maker,
		RecallCount:   len(result.Recalls),
		CheckedAt:     result.CheckedAt,
	})
	if err != nil {
		d.log.Warn("marshaling recall event failed", zap.Error(err))
		return
	}
	if _, err := d.events.Publish(ctx, d.topic, payload); err != nil {
		d.log.Warn("publishing recall event failed", zap.String("topic", d.topic), zap.Error(err))
		return
	}
	metrics.RecordEventPublished()
}
