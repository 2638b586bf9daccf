package telemetry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/example/courier-dispatch/internal/directory"
	"github.com/example/courier-dispatch/internal/logging"
	"github.com/example/courier-dispatch/internal/models"
	"github.com/example/courier-dispatch/internal/proximity"
	"github.com/example/courier-dispatch/internal/store"
)

type fakeStore struct {
	mu         sync.Mutex
	driverRecs []store.DriverRecord
	orderRecs  []store.OrderRecord
	failOrder  string // order id whose writes fail
}

func (f *fakeStore) WriteDriver(_ context.Context, rec store.DriverRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.driverRecs = append(f.driverRecs, rec)
	return nil
}

func (f *fakeStore) WriteOrder(_ context.Context, rec store.OrderRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if rec.OrderID == f.failOrder {
		return errors.New("store down")
	}
	f.orderRecs = append(f.orderRecs, rec)
	return nil
}

func (f *fakeStore) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.driverRecs), len(f.orderRecs)
}

type nopAlarm struct{}

func (nopAlarm) Start() {}
func (nopAlarm) Stop()  {}

func newTestPublisher(t *testing.T, fs *fakeStore, dir *directory.Directory) (*Publisher, *SampleCache) {
	t.Helper()
	src := NewSampleCache()
	prox := proximity.NewAlerter(nopAlarm{}, logging.Nop())
	p := NewPublisher(fs, nil, src, dir, prox, logging.Nop(), "driverX", "Sam", func() bool { return true })
	p.SetDriverInterval(10 * time.Millisecond)
	return p, src
}

func TestIntervalForStatus(t *testing.T) {
	cases := map[models.OrderStatus]time.Duration{
		models.StatusAccepted:  10 * time.Second,
		models.StatusPickedUp:  5 * time.Second,
		models.StatusInTransit: 3 * time.Second,
		models.StatusDelivered: 0,
		models.StatusCancelled: 0,
	}
	for s, want := range cases {
		if got := intervalForStatus(s); got != want {
			t.Errorf("intervalForStatus(%s) = %v, want %v", s, got, want)
		}
	}
}

func TestDriverChannelAlwaysWritten(t *testing.T) {
	fs := &fakeStore{}
	dir := directory.New()
	p, src := newTestPublisher(t, fs, dir)
	src.Update(models.LocationSample{Lat: 1, Lon: 2, At: time.Now()})

	p.Start(context.Background())
	defer p.Stop()

	deadline := time.Now().Add(time.Second)
	for {
		if d, _ := fs.counts(); d >= 3 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("driver channel not written")
		}
		time.Sleep(2 * time.Millisecond)
	}

	fs.mu.Lock()
	rec := fs.driverRecs[0]
	fs.mu.Unlock()
	if rec.DriverID != "driverX" || !rec.Tracking || rec.Status != "Available" {
		t.Fatalf("driver record = %+v", rec)
	}
	if len(rec.ActiveOrderIDs) != 0 {
		t.Fatal("no active orders expected")
	}
}

func TestTickSkippedWithoutSample(t *testing.T) {
	fs := &fakeStore{}
	dir := directory.New()
	p, _ := newTestPublisher(t, fs, dir)

	p.Start(context.Background())
	time.Sleep(50 * time.Millisecond)
	p.Stop()

	if d, o := fs.counts(); d != 0 || o != 0 {
		t.Fatalf("writes = %d/%d, want none before the first sample", d, o)
	}
}

func TestOrderChannelFollowsActiveSet(t *testing.T) {
	fs := &fakeStore{}
	dir := directory.New()
	dir.Activate(models.Order{
		ID:          "O1",
		Code:        "A-17",
		Status:      models.StatusInTransit,
		Destination: &models.Place{Lat: 50, Lng: 9},
		DeliveryFee: 150,
		Tip:         25,
	})

	p, src := newTestPublisher(t, fs, dir)
	src.Update(models.LocationSample{Lat: 1, Lon: 2, At: time.Now()})

	// shrink the per-order cadence the same way the driver cadence is
	p.Start(context.Background())
	p.mu.Lock()
	p.orderSched.setInterval(10 * time.Millisecond)
	p.mu.Unlock()
	defer p.Stop()

	deadline := time.Now().Add(time.Second)
	for {
		if _, o := fs.counts(); o >= 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("order channel not written")
		}
		time.Sleep(2 * time.Millisecond)
	}

	fs.mu.Lock()
	rec := fs.orderRecs[0]
	fs.mu.Unlock()
	if rec.OrderID != "O1" || rec.Status != string(models.StatusInTransit) || rec.DeliveryFee != 150 {
		t.Fatalf("order record = %+v", rec)
	}
	if rec.CustomerName != "" || rec.PickupCode != "" {
		t.Fatal("absent optionals must stay empty for omission")
	}
}

func TestOrderWriteFailureDoesNotBlockOthers(t *testing.T) {
	fs := &fakeStore{failOrder: "O1"}
	dir := directory.New()
	dir.Activate(models.Order{ID: "O1", Status: models.StatusInTransit})
	dir.Activate(models.Order{ID: "O2", Status: models.StatusInTransit})

	p, src := newTestPublisher(t, fs, dir)
	src.Update(models.LocationSample{Lat: 1, Lon: 2, At: time.Now()})

	p.Start(context.Background())
	p.mu.Lock()
	p.orderSched.setInterval(10 * time.Millisecond)
	p.mu.Unlock()
	defer p.Stop()

	deadline := time.Now().Add(time.Second)
	for {
		fs.mu.Lock()
		got := len(fs.orderRecs) > 0
		fs.mu.Unlock()
		if got {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("surviving order never written")
		}
		time.Sleep(2 * time.Millisecond)
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()
	for _, r := range fs.orderRecs {
		if r.OrderID != "O2" {
			t.Fatalf("unexpected write for %s", r.OrderID)
		}
	}
}

func TestCadenceAdaptsAcrossStatusChange(t *testing.T) {
	fs := &fakeStore{}
	dir := directory.New()
	dir.Activate(models.Order{ID: "O1", Status: models.StatusAccepted})

	p, src := newTestPublisher(t, fs, dir)
	src.Update(models.LocationSample{Lat: 1, Lon: 2, At: time.Now()})

	if got := p.activeIntervalLocked(); got != 10*time.Second {
		t.Fatalf("accepted cadence = %v, want 10s", got)
	}
	if _, ok := dir.AdvanceActive("O1", models.StatusPickedUp); !ok {
		t.Fatal("transition rejected")
	}
	if got := p.activeIntervalLocked(); got != 5*time.Second {
		t.Fatalf("picked-up cadence = %v, want 5s", got)
	}

	// the running scheduler keeps ticking across the reconfiguration
	p.Start(context.Background())
	p.mu.Lock()
	p.orderSched.setInterval(20 * time.Millisecond)
	p.mu.Unlock()
	time.Sleep(60 * time.Millisecond)
	p.RecomputeCadence() // back to 5s; loop must survive
	p.mu.Lock()
	p.orderSched.setInterval(10 * time.Millisecond)
	p.mu.Unlock()

	deadline := time.Now().Add(time.Second)
	var before int
	_, before = fs.counts()
	for {
		if _, o := fs.counts(); o > before {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("no writes after cadence change")
		}
		time.Sleep(2 * time.Millisecond)
	}
	p.Stop()
}

func TestStopCancelsAllTimers(t *testing.T) {
	fs := &fakeStore{}
	dir := directory.New()
	p, src := newTestPublisher(t, fs, dir)
	src.Update(models.LocationSample{Lat: 1, Lon: 2, At: time.Now()})

	p.Start(context.Background())
	time.Sleep(30 * time.Millisecond)
	p.Stop()
	if p.Running() {
		t.Fatal("publisher still running after Stop")
	}

	d1, o1 := fs.counts()
	time.Sleep(50 * time.Millisecond)
	d2, o2 := fs.counts()
	if d1 != d2 || o1 != o2 {
		t.Fatal("writes continued after Stop; a timer leaked")
	}

	// restart works
	p.Start(context.Background())
	p.Stop()
}
