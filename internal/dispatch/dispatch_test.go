package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kurumaware/recallwatch/internal/cache"
	"github.com/kurumaware/recallwatch/internal/publisher"
	"github.com/kurumaware/recallwatch/internal/recall"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

var testNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

// stubAdapter returns a canned result and counts invocations.
type stubAdapter struct {
	maker   string
	result  recall.Result
	calls   int
	lastArg string
}

func (a *stubAdapter) Maker() string { return a.maker }

func (a *stubAdapter) Check(_ context.Context, chassisNumber string) recall.Result {
	a.calls++
	a.lastArg = chassisNumber
	result := a.result
	result.ChassisNumber = chassisNumber
	result.Maker = a.maker
	result.CheckedAt = testNow
	return result
}

func recallHit() recall.Result {
	return recall.Result{
		HasRecall: true,
		Recalls: []recall.Info{{
			ID:          "e1",
			RecallID:    "4321",
			Title:       "燃料ポンプ",
			Severity:    recall.SeverityHigh,
			Status:      recall.StatusPending,
			PublishedAt: "2024-03-15",
		}},
	}
}

func degradedHit() recall.Result {
	return recall.Result{
		HasRecall: true,
		Recalls:   []recall.Info{recall.ManualCheck(recall.MakerToyota, testNow)},
	}
}

func newTestDispatcher(adapter recall.Adapter, opts ...Option) *Dispatcher {
	store := cache.NewStore(cache.NewMemory(), fixedClock{now: testNow}, zap.NewNop())
	opts = append([]Option{WithClock(fixedClock{now: testNow})}, opts...)
	return New([]recall.Adapter{adapter}, store, zap.NewNop(), opts...)
}

func TestCheckRecallValidatesInput(t *testing.T) {
	adapter := &stubAdapter{maker: recall.MakerToyota}
	d := newTestDispatcher(adapter)
	ctx := context.Background()

	if _, err := d.CheckRecall(ctx, "", recall.MakerToyota, false); !errors.Is(err, ErrChassisRequired) {
		t.Fatalf("empty chassis: err = %v", err)
	}
	if _, err := d.CheckRecall(ctx, "ZWR80-1234567", "", false); !errors.Is(err, ErrMakerRequired) {
		t.Fatalf("empty maker: err = %v", err)
	}
	if adapter.calls != 0 {
		t.Fatalf("validation failures must not reach the adapter, %d calls", adapter.calls)
	}
}

// A recognized maker without an adapter is rejected before any network
// traffic; checking against the wrong site would fake an all-clear.
func TestCheckRecallRejectsUnsupportedMaker(t *testing.T) {
	adapter := &stubAdapter{maker: recall.MakerToyota}
	d := newTestDispatcher(adapter)

	_, err := d.CheckRecall(context.Background(), "JS1234567", recall.MakerSuzuki, false)
	if !errors.Is(err, ErrUnsupportedMaker) {
		t.Fatalf("err = %v, want ErrUnsupportedMaker", err)
	}
	if adapter.calls != 0 {
		t.Fatalf("unsupported maker must not invoke any adapter, %d calls", adapter.calls)
	}
}

func TestCheckRecallNormalizesChassis(t *testing.T) {
	adapter := &stubAdapter{maker: recall.MakerToyota}
	d := newTestDispatcher(adapter)

	result, err := d.CheckRecall(context.Background(), "  zwr80-1234567 ", recall.MakerToyota, false)
	if err != nil {
		t.Fatalf("CheckRecall: %v", err)
	}
	if adapter.lastArg != "ZWR80-1234567" {
		t.Fatalf("adapter received %q", adapter.lastArg)
	}
	if result.ChassisNumber != "ZWR80-1234567" {
		t.Fatalf("result chassis = %q", result.ChassisNumber)
	}
}

func TestCheckRecallServesSecondLookupFromCache(t *testing.T) {
	adapter := &stubAdapter{maker: recall.MakerToyota, result: recallHit()}
	d := newTestDispatcher(adapter)
	ctx := context.Background()

	first, err := d.CheckRecall(ctx, "ZWR80-1234567", recall.MakerToyota, false)
	if err != nil {
		t.Fatalf("first lookup: %v", err)
	}
	if first.Cached {
		t.Fatal("first lookup must be fresh")
	}

	second, err := d.CheckRecall(ctx, "ZWR80-1234567", recall.MakerToyota, false)
	if err != nil {
		t.Fatalf("second lookup: %v", err)
	}
	if !second.Cached {
		t.Fatal("second lookup should come from cache")
	}
	if adapter.calls != 1 {
		t.Fatalf("cached lookup must not hit the source, %d calls", adapter.calls)
	}
	if len(second.Recalls) != 1 || second.Recalls[0].RecallID != first.Recalls[0].RecallID {
		t.Fatalf("cached recalls differ: %+v vs %+v", second.Recalls, first.Recalls)
	}
}

func TestCheckRecallBypassForcesFreshLookup(t *testing.T) {
	adapter := &stubAdapter{maker: recall.MakerToyota, result: recallHit()}
	d := newTestDispatcher(adapter)
	ctx := context.Background()

	if _, err := d.CheckRecall(ctx, "ZWR80-1234567", recall.MakerToyota, false); err != nil {
		t.Fatal(err)
	}
	result, err := d.CheckRecall(ctx, "ZWR80-1234567", recall.MakerToyota, true)
	if err != nil {
		t.Fatal(err)
	}
	if result.Cached {
		t.Fatal("bypass lookup must be fresh")
	}
	if adapter.calls != 2 {
		t.Fatalf("bypass should reach the source again, %d calls", adapter.calls)
	}
}

// Degraded results stay out of the cache so the next lookup retries the
// source instead of replaying the failure for a day.
func TestCheckRecallDoesNotCacheDegradedResults(t *testing.T) {
	adapter := &stubAdapter{maker: recall.MakerToyota, result: degradedHit()}
	d := newTestDispatcher(adapter)
	ctx := context.Background()

	if _, err := d.CheckRecall(ctx, "ZWR80-1234567", recall.MakerToyota, false); err != nil {
		t.Fatal(err)
	}
	if _, err := d.CheckRecall(ctx, "ZWR80-1234567", recall.MakerToyota, false); err != nil {
		t.Fatal(err)
	}
	if adapter.calls != 2 {
		t.Fatalf("degraded result must not be cached, %d calls", adapter.calls)
	}
}

func TestCheckRecallPublishesRecallFoundOnce(t *testing.T) {
	adapter := &stubAdapter{maker: recall.MakerToyota, result: recallHit()}
	events := publisher.NewMemory()
	d := newTestDispatcher(adapter, WithPublisher(events, "recall-found"))
	ctx := context.Background()

	if _, err := d.CheckRecall(ctx, "ZWR80-1234567", recall.MakerToyota, false); err != nil {
		t.Fatal(err)
	}
	// Cached hit: no duplicate event.
	if _, err := d.CheckRecall(ctx, "ZWR80-1234567", recall.MakerToyota, false); err != nil {
		t.Fatal(err)
	}

	published := events.Events()
	if len(published) != 1 {
		t.Fatalf("expected exactly one event, got %d", len(published))
	}
	if published[0].Topic != "recall-found" {
		t.Fatalf("event topic = %q", published[0].Topic)
	}
}

func TestCheckRecallDoesNotPublishOnClear(t *testing.T) {
	adapter := &stubAdapter{maker: recall.MakerToyota, result: recall.Result{Recalls: []recall.Info{}}}
	events := publisher.NewMemory()
	d := newTestDispatcher(adapter, WithPublisher(events, "recall-found"))

	if _, err := d.CheckRecall(context.Background(), "ZWR80-1234567", recall.MakerToyota, false); err != nil {
		t.Fatal(err)
	}
	if n := len(events.Events()); n != 0 {
		t.Fatalf("clear result published %d events", n)
	}
}

func TestClearCache(t *testing.T) {
	adapter := &stubAdapter{maker: recall.MakerToyota, result: recallHit()}
	d := newTestDispatcher(adapter)
	ctx := context.Background()

	if _, err := d.CheckRecall(ctx, "ZWR80-1234567", recall.MakerToyota, false); err != nil {
		t.Fatal(err)
	}
	d.ClearCache(ctx, "zwr80-1234567", "")

	if _, err := d.CheckRecall(ctx, "ZWR80-1234567", recall.MakerToyota, false); err != nil {
		t.Fatal(err)
	}
	if adapter.calls != 2 {
		t.Fatalf("cleared entry should force a fresh lookup, %d calls", adapter.calls)
	}
}

func TestCheckRecallByModelValidation(t *testing.T) {
	d := newTestDispatcher(&stubAdapter{maker: recall.MakerToyota})

	if _, err := d.CheckRecallByModel(context.Background(), "", "6AA-ZWE219"); !errors.Is(err, ErrModelRequired) {
		t.Fatalf("missing model name: err = %v", err)
	}
	if _, err := d.CheckRecallByModel(context.Background(), "カローラ", "6AA-ZWE219"); err == nil {
		t.Fatal("registry lookups without a registry must error")
	}
}

type stubRegistry struct{ calls int }

func (r *stubRegistry) CheckByModel(_ context.Context, modelName, typeCode string) recall.Result {
	r.calls++
	return recall.Result{Maker: modelName, Model: typeCode, Recalls: []recall.Info{}, CheckedAt: testNow}
}

func TestCheckRecallByModelDelegates(t *testing.T) {
	registry := &stubRegistry{}
	d := newTestDispatcher(&stubAdapter{maker: recall.MakerToyota}, WithRegistry(registry))

	result, err := d.CheckRecallByModel(context.Background(), " カローラ ", " 6AA-ZWE219 ")
	if err != nil {
		t.Fatalf("CheckRecallByModel: %v", err)
	}
	if registry.calls != 1 {
		t.Fatalf("registry calls = %d", registry.calls)
	}
	if result.Model != "6AA-ZWE219" {
		t.Fatalf("result model = %q", result.Model)
	}
}

func TestSupportedMakers(t *testing.T) {
	d := newTestDispatcher(&stubAdapter{maker: recall.MakerToyota})
	makers := d.SupportedMakers()
	if len(makers) != 1 || makers[0] != recall.MakerToyota {
		t.Fatalf("SupportedMakers = %v", makers)
	}
}
