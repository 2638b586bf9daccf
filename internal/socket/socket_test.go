package socket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/example/courier-dispatch/internal/logging"
	"github.com/example/courier-dispatch/internal/models"
)

type recordingHandler struct {
	mu     sync.Mutex
	orders []models.Order
	taken  []string
	counts []int
	chats  []models.ChatMessage
	errs   []string
	states []State
}

func (h *recordingHandler) HandleOrderBroadcast(o models.Order) {
	h.mu.Lock()
	h.orders = append(h.orders, o)
	h.mu.Unlock()
}
func (h *recordingHandler) HandleOrderTaken(id string) {
	h.mu.Lock()
	h.taken = append(h.taken, id)
	h.mu.Unlock()
}
func (h *recordingHandler) HandleOrdersCount(n int) {
	h.mu.Lock()
	h.counts = append(h.counts, n)
	h.mu.Unlock()
}
func (h *recordingHandler) HandleChat(m models.ChatMessage) {
	h.mu.Lock()
	h.chats = append(h.chats, m)
	h.mu.Unlock()
}
func (h *recordingHandler) HandleServerError(msg string) {
	h.mu.Lock()
	h.errs = append(h.errs, msg)
	h.mu.Unlock()
}
func (h *recordingHandler) HandleConnectionChange(s State, _ string) {
	h.mu.Lock()
	h.states = append(h.states, s)
	h.mu.Unlock()
}

// ackFunc decides the server's reply to an acceptOrder frame; returning
// a nil payload suppresses the ack entirely.
type fakeDispatch struct {
	srv     *httptest.Server
	mu      sync.Mutex
	conns   []*websocket.Conn
	ackFunc func(f frame) *acceptAck
	ackWait time.Duration
}

func newFakeDispatch(t *testing.T) *fakeDispatch {
	t.Helper()
	fd := &fakeDispatch{}
	upgrader := websocket.Upgrader{}
	fd.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ") {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		fd.mu.Lock()
		fd.conns = append(fd.conns, conn)
		fd.mu.Unlock()
		go fd.serve(conn)
	}))
	t.Cleanup(fd.srv.Close)
	return fd
}

func (fd *fakeDispatch) serve(conn *websocket.Conn) {
	for {
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			return
		}
		if f.Event != EventAcceptOrder {
			continue
		}
		fd.mu.Lock()
		ackFunc, wait := fd.ackFunc, fd.ackWait
		fd.mu.Unlock()
		if ackFunc == nil {
			continue
		}
		ack := ackFunc(f)
		if ack == nil {
			continue
		}
		if wait > 0 {
			time.Sleep(wait)
		}
		data, _ := json.Marshal(ack)
		fd.mu.Lock()
		conn.WriteJSON(frame{Event: EventAck, Data: data, AckID: f.AckID})
		fd.mu.Unlock()
	}
}

func (fd *fakeDispatch) push(t *testing.T, event string, payload any) {
	t.Helper()
	fd.mu.Lock()
	defer fd.mu.Unlock()
	if len(fd.conns) == 0 {
		t.Fatal("no connected client")
	}
	data, _ := json.Marshal(payload)
	if err := fd.conns[len(fd.conns)-1].WriteJSON(frame{Event: event, Data: data}); err != nil {
		t.Fatalf("push: %v", err)
	}
}

func (fd *fakeDispatch) wsURL() string {
	return "ws" + strings.TrimPrefix(fd.srv.URL, "http")
}

func connected(t *testing.T, fd *fakeDispatch, h *recordingHandler) *Manager {
	t.Helper()
	m := NewManager(fd.wsURL(), h, logging.Nop())
	m.SetToken("tok")
	m.SetOnline(true)
	if s, msg := m.State(); s != StateConnected {
		t.Fatalf("state = %v (%s), want connected", s, msg)
	}
	t.Cleanup(m.Close)
	return m
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestConnectionRequiresOnlineAndToken(t *testing.T) {
	fd := newFakeDispatch(t)
	h := &recordingHandler{}
	m := NewManager(fd.wsURL(), h, logging.Nop())

	m.SetOnline(true) // no token yet
	if s, _ := m.State(); s != StateDisconnected {
		t.Fatalf("state = %v, want disconnected without credential", s)
	}
	if m.Reconnect() {
		t.Fatal("reconnect must fail without credential")
	}

	m.SetToken("tok")
	if s, _ := m.State(); s != StateConnected {
		t.Fatal("token arrival should open the connection")
	}

	m.SetOnline(false)
	if s, _ := m.State(); s != StateDisconnected {
		t.Fatal("going offline must close the connection")
	}
	m.Close()
}

func TestDialFailureRecordsError(t *testing.T) {
	h := &recordingHandler{}
	m := NewManager("ws://127.0.0.1:1/ws", h, logging.Nop())
	m.SetToken("tok")
	m.SetOnline(true)
	s, msg := m.State()
	if s != StateError || msg == "" {
		t.Fatalf("state = %v (%q), want error with message", s, msg)
	}
	m.Close()
}

func TestReconnectIsIdempotent(t *testing.T) {
	fd := newFakeDispatch(t)
	h := &recordingHandler{}
	m := connected(t, fd, h)

	if !m.Reconnect() {
		t.Fatal("reconnect with live connection should succeed")
	}
	if !m.Reconnect() {
		t.Fatal("second reconnect should also succeed")
	}
	if s, _ := m.State(); s != StateConnected {
		t.Fatal("reconnect must end connected")
	}
}

func TestInboundEventDispatch(t *testing.T) {
	fd := newFakeDispatch(t)
	h := &recordingHandler{}
	connected(t, fd, h)

	fd.push(t, EventOrderCooked, map[string]any{"id": "O1", "status": "cooked", "deliveryFee": "12.5"})
	fd.push(t, EventOrderAccepted, map[string]any{"orderId": "O1"})
	fd.push(t, EventOrdersCount, 4)
	fd.push(t, EventDeliveryMessage, map[string]any{"id": "O2", "deliveryFee": 3})
	fd.push(t, EventDeliveryMessage, map[string]any{"sender": "dispatch", "text": "road closed downtown"})
	fd.push(t, EventErrorMessage, map[string]any{"message": "shift ending"})

	waitFor(t, func() bool {
		h.mu.Lock()
		defer h.mu.Unlock()
		return len(h.orders) == 2 && len(h.taken) == 1 && len(h.counts) == 1 &&
			len(h.chats) == 1 && len(h.errs) == 1
	})

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.orders[0].Status != models.StatusAvailable || float64(h.orders[0].DeliveryFee) != 12.5 {
		t.Fatalf("broadcast order = %+v", h.orders[0])
	}
	if h.orders[1].ID != "O2" {
		t.Fatalf("deliveryMessage order = %+v", h.orders[1])
	}
	if h.counts[0] != 4 || h.taken[0] != "O1" || h.chats[0].Text != "road closed downtown" {
		t.Fatal("event payloads not dispatched correctly")
	}
}

func TestAcceptNotConnected(t *testing.T) {
	h := &recordingHandler{}
	m := NewManager("ws://127.0.0.1:1/ws", h, logging.Nop())

	_, err := m.Accept(context.Background(), "O3", "driverX")
	var ae *AcceptError
	if !errors.As(err, &ae) || ae.Reason != ReasonNotConnected {
		t.Fatalf("err = %v, want NOT_CONNECTED", err)
	}
}

func TestAcceptSuccess(t *testing.T) {
	fd := newFakeDispatch(t)
	fd.ackFunc = func(f frame) *acceptAck {
		var p map[string]string
		json.Unmarshal(f.Data, &p)
		if p["orderId"] != "O1" || p["deliveryPersonId"] != "driverX" {
			return &acceptAck{Status: "error", Code: "MISSING_ORDER_ID"}
		}
		return &acceptAck{Status: "success", Data: models.Order{
			Code:        "A-17",
			PickupCode:  "4711",
			Destination: &models.Place{Lat: 1, Lng: 2},
			DeliveryFee: 150,
			Tip:         25,
			DistanceKm:  3.2,
		}}
	}
	h := &recordingHandler{}
	m := connected(t, fd, h)

	o, err := m.Accept(context.Background(), "O1", "driverX")
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if o.ID != "O1" || o.Status != models.StatusAccepted || o.Total() != 175 {
		t.Fatalf("accepted order = %+v", o)
	}
}

func TestAcceptFailureReasons(t *testing.T) {
	fd := newFakeDispatch(t)
	h := &recordingHandler{}
	m := connected(t, fd, h)

	cases := []struct {
		code string
		want AcceptReason
	}{
		{"ALREADY_HAS_ACTIVE_ORDER", ReasonActiveOrder},
		{"ORDER_NO_LONGER_AVAILABLE", ReasonOrderTaken},
		{"INVALID_ORDER_ID", ReasonInvalidOrder},
		{"SOMETHING_ELSE", ReasonServer},
	}
	for _, c := range cases {
		fd.mu.Lock()
		code := c.code
		fd.ackFunc = func(frame) *acceptAck { return &acceptAck{Status: "error", Code: code, Message: "nope"} }
		fd.mu.Unlock()

		_, err := m.Accept(context.Background(), "O1", "driverX")
		var ae *AcceptError
		if !errors.As(err, &ae) || ae.Reason != c.want {
			t.Fatalf("code %s: err = %v, want %s", c.code, err, c.want)
		}
	}
}

func TestAcceptTimeoutResolvesOnceAndLateAckIsNoop(t *testing.T) {
	fd := newFakeDispatch(t)
	fd.ackFunc = func(frame) *acceptAck {
		return &acceptAck{Status: "success", Data: models.Order{Code: "LATE"}}
	}
	fd.ackWait = 150 * time.Millisecond

	h := &recordingHandler{}
	m := connected(t, fd, h)
	m.SetAcceptTimeout(30 * time.Millisecond)

	_, err := m.Accept(context.Background(), "O1", "driverX")
	var ae *AcceptError
	if !errors.As(err, &ae) || ae.Reason != ReasonTimeout {
		t.Fatalf("err = %v, want TIMEOUT", err)
	}

	// let the late ack arrive; it must find no pending exchange
	time.Sleep(250 * time.Millisecond)
	m.ackMu.Lock()
	pending := len(m.pending)
	m.ackMu.Unlock()
	if pending != 0 {
		t.Fatalf("pending exchanges = %d, want 0", pending)
	}

	// the connection is still usable afterwards
	fd.mu.Lock()
	fd.ackWait = 0
	fd.mu.Unlock()
	if o, err := m.Accept(context.Background(), "O2", "driverX"); err != nil || o.ID != "O2" {
		t.Fatalf("follow-up accept = %+v, %v", o, err)
	}
}

func TestAcceptMissingOrderID(t *testing.T) {
	fd := newFakeDispatch(t)
	h := &recordingHandler{}
	m := connected(t, fd, h)

	_, err := m.Accept(context.Background(), "", "driverX")
	var ae *AcceptError
	if !errors.As(err, &ae) || ae.Reason != ReasonMissingOrder {
		t.Fatalf("err = %v, want MISSING_ORDER_ID", err)
	}
}
