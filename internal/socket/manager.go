package socket

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/example/courier-dispatch/internal/models"
	"github.com/example/courier-dispatch/internal/observability"
)

// Handler receives decoded socket events. Implementations must be safe to
// call from the read loop goroutine.
type Handler interface {
	HandleOrderBroadcast(o models.Order)
	HandleOrderTaken(orderID string)
	HandleOrdersCount(n int)
	HandleChat(m models.ChatMessage)
	HandleServerError(message string)
	HandleConnectionChange(s State, errMsg string)
}

// Manager owns the socket lifecycle. Invariant: a connection exists iff
// the online flag is set and a credential is present; every state change
// that breaks the invariant opens or closes the connection accordingly.
type Manager struct {
	url           string
	dialer        *websocket.Dialer
	handler       Handler
	log           *slog.Logger
	acceptTimeout time.Duration

	mu     sync.Mutex
	conn   *websocket.Conn
	gen    int // bumped on every close so stale read loops are ignored
	online bool
	token  string
	state  State
	errMsg string

	// writeMu serializes frame writes on the single connection.
	writeMu sync.Mutex

	ackSeq  atomic.Int64
	ackMu   sync.Mutex
	pending map[int64]chan acceptAck
}

func NewManager(url string, handler Handler, log *slog.Logger) *Manager {
	return &Manager{
		url:           url,
		dialer:        &websocket.Dialer{HandshakeTimeout: 5 * time.Second},
		handler:       handler,
		log:           log,
		acceptTimeout: 10 * time.Second,
		pending:       make(map[int64]chan acceptAck),
	}
}

// SetHandler installs the event sink. It must be called before the first
// SetOnline/SetToken when the manager is constructed without one.
func (m *Manager) SetHandler(h Handler) {
	m.mu.Lock()
	m.handler = h
	m.mu.Unlock()
}

// SetAcceptTimeout overrides the acknowledgement deadline; tests shrink it.
func (m *Manager) SetAcceptTimeout(d time.Duration) {
	if d > 0 {
		m.acceptTimeout = d
	}
}

// SetOnline flips the driver-controlled online flag and reconciles the
// connection against the invariant.
func (m *Manager) SetOnline(online bool) {
	m.mu.Lock()
	m.online = online
	notify := m.reconcileLocked()
	m.mu.Unlock()
	notify()
}

// SetToken installs or clears the credential and reconciles.
func (m *Manager) SetToken(token string) {
	m.mu.Lock()
	m.token = token
	notify := m.reconcileLocked()
	m.mu.Unlock()
	notify()
}

// Reconnect tears down any existing connection and dials again. It
// reports false without side effects when the preconditions (online flag
// and credential) do not hold. Connection errors surface through the
// state, not through retries.
func (m *Manager) Reconnect() bool {
	m.mu.Lock()
	if m.token == "" || !m.online {
		m.mu.Unlock()
		return false
	}
	m.closeLocked()
	notify := m.dialLocked()
	m.mu.Unlock()
	notify()
	return true
}

// State returns the connectivity state and, in the error state, the
// recorded human-readable message.
func (m *Manager) State() (State, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state, m.errMsg
}

// Close force-disconnects; used on session teardown.
func (m *Manager) Close() {
	m.mu.Lock()
	m.online = false
	m.closeLocked()
	notify := m.setStateLocked(StateDisconnected, "")
	m.mu.Unlock()
	notify()
}

// reconcileLocked opens or closes the connection so that it exists iff
// online && credential. Returns the deferred handler notification.
func (m *Manager) reconcileLocked() func() {
	want := m.online && m.token != ""
	switch {
	case want && m.conn == nil:
		return m.dialLocked()
	case !want && m.conn != nil:
		m.closeLocked()
		return m.setStateLocked(StateDisconnected, "")
	case !want && m.state != StateDisconnected:
		return m.setStateLocked(StateDisconnected, "")
	}
	return func() {}
}

func (m *Manager) dialLocked() func() {
	notifyConnecting := m.setStateLocked(StateConnecting, "")

	header := http.Header{}
	header.Set("Authorization", "Bearer "+m.token)
	conn, resp, err := m.dialer.Dial(m.url, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		// reported, not retried; cached orders stay visible upstream
		notifyErr := m.setStateLocked(StateError, err.Error())
		m.log.Warn("socket dial failed", "url", m.url, "error", err)
		return func() { notifyConnecting(); notifyErr() }
	}

	m.conn = conn
	gen := m.gen
	notifyUp := m.setStateLocked(StateConnected, "")
	m.log.Info("socket connected", "url", m.url)
	go m.readLoop(conn, gen)
	return func() { notifyConnecting(); notifyUp() }
}

func (m *Manager) closeLocked() {
	if m.conn == nil {
		return
	}
	m.gen++
	_ = m.conn.Close()
	m.conn = nil
}

func (m *Manager) setStateLocked(s State, errMsg string) func() {
	if m.state == s && m.errMsg == errMsg {
		return func() {}
	}
	m.state = s
	m.errMsg = errMsg
	observability.ConnectionState.Set(float64(s))
	h := m.handler
	return func() {
		if h != nil {
			h.HandleConnectionChange(s, errMsg)
		}
	}
}

func (m *Manager) readLoop(conn *websocket.Conn, gen int) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			m.mu.Lock()
			if m.gen != gen {
				// we closed this connection on purpose
				m.mu.Unlock()
				return
			}
			m.gen++
			m.conn = nil
			notify := m.setStateLocked(StateError, err.Error())
			m.mu.Unlock()
			m.log.Warn("socket read failed", "error", err)
			notify()
			return
		}
		m.dispatch(data)
	}
}

func (m *Manager) dispatch(data []byte) {
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		m.log.Warn("undecodable socket frame", "error", err)
		return
	}
	switch f.Event {
	case EventAck:
		m.resolveAck(f)
	case EventOrderCooked:
		m.dispatchOrder(f.Data)
	case EventDeliveryMessage:
		m.dispatchDeliveryMessage(f.Data)
	case EventOrderAccepted:
		var p struct {
			OrderID string `json:"orderId"`
		}
		if err := json.Unmarshal(f.Data, &p); err != nil || p.OrderID == "" {
			m.log.Warn("bad order:accepted payload", "error", err)
			return
		}
		m.handler.HandleOrderTaken(p.OrderID)
	case EventOrdersCount:
		m.dispatchCount(f.Data)
	case EventErrorMessage:
		m.handler.HandleServerError(decodeMessage(f.Data))
	default:
		m.log.Debug("ignoring socket event", "event", f.Event)
	}
}

func (m *Manager) dispatchOrder(data json.RawMessage) {
	var o models.Order
	if err := json.Unmarshal(data, &o); err != nil || o.ID == "" {
		m.log.Warn("bad order payload", "error", err)
		return
	}
	o.Status = models.NormalizeStatus(string(o.Status))
	m.handler.HandleOrderBroadcast(o)
}

// dispatchDeliveryMessage discriminates the overloaded event by payload
// shape: an order carries an id, a chat line carries text.
func (m *Manager) dispatchDeliveryMessage(data json.RawMessage) {
	var probe struct {
		ID   string `json:"id"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		m.log.Warn("bad deliveryMessage payload", "error", err)
		return
	}
	if probe.ID != "" {
		m.dispatchOrder(data)
		return
	}
	var c models.ChatMessage
	if err := json.Unmarshal(data, &c); err != nil || c.Text == "" {
		m.log.Warn("bad chat payload", "error", err)
		return
	}
	m.handler.HandleChat(c)
}

func (m *Manager) dispatchCount(data json.RawMessage) {
	var n int
	if err := json.Unmarshal(data, &n); err == nil {
		m.handler.HandleOrdersCount(n)
		return
	}
	var p struct {
		Count int `json:"count"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		m.log.Warn("bad count payload", "error", err)
		return
	}
	m.handler.HandleOrdersCount(p.Count)
}

func decodeMessage(data json.RawMessage) string {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		return s
	}
	var p struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &p); err == nil && p.Message != "" {
		return p.Message
	}
	return string(data)
}

func (m *Manager) writeFrame(conn *websocket.Conn, f frame) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	return conn.WriteJSON(f)
}
