package pubsub

import (
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/ephemeral-svm/validator/internal/bank"
	"github.com/ephemeral-svm/validator/internal/solanatypes"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      jsoniter.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  jsoniter.RawMessage `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	JSONRPC string              `json:"jsonrpc"`
	ID      jsoniter.RawMessage `json:"id"`
	Result  any                 `json:"result,omitempty"`
	Error   *rpcError           `json:"error,omitempty"`
}

type rpcNotification struct {
	JSONRPC string               `json:"jsonrpc"`
	Method  string               `json:"method"`
	Params  rpcNotificationParam `json:"params"`
}

type rpcNotificationParam struct {
	Result       any   `json:"result"`
	Subscription SubID `json:"subscription"`
}

// AccountReader is the read surface Server needs to answer
// accountSubscribe's initial value (spec §4.7: "initial value from a
// short-TTL cache if present, then live").
type AccountReader = bank.AccountReader

// Server adapts Hub to JSON-RPC 2.0 over WebSocket (spec §4.7 "Pub/sub
// wire"). One Server serves many concurrent connections; each
// connection owns its own subscription set, torn down on disconnect.
type Server struct {
	log    *zap.Logger
	hub    *Hub
	store  AccountReader
	status StatusLookup
}

func NewServer(log *zap.Logger, hub *Hub, store AccountReader, status StatusLookup) *Server {
	return &Server{log: log, hub: hub, store: store, status: status}
}

// ServeHTTP upgrades the request to a WebSocket and serves JSON-RPC
// subscribe/unsubscribe traffic on it until the client disconnects.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("pubsub: websocket upgrade failed", zap.Error(err))
		return
	}
	c := &connHandler{log: s.log, hub: s.hub, store: s.store, status: s.status, ws: ws, unsub: make(map[SubID]func() bool)}
	c.run()
}

type connHandler struct {
	log    *zap.Logger
	hub    *Hub
	store  AccountReader
	status StatusLookup
	ws     *websocket.Conn

	writeMu sync.Mutex
	mu      sync.Mutex
	unsub   map[SubID]func() bool
}

func (c *connHandler) run() {
	defer c.close()
	for {
		var req rpcRequest
		if err := c.ws.ReadJSON(&req); err != nil {
			return
		}
		c.dispatch(req)
	}
}

func (c *connHandler) close() {
	c.mu.Lock()
	fns := make([]func() bool, 0, len(c.unsub))
	for _, fn := range c.unsub {
		fns = append(fns, fn)
	}
	c.unsub = map[SubID]func() bool{}
	c.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
	c.ws.Close()
}

func (c *connHandler) writeJSON(v any) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.ws.WriteJSON(v); err != nil {
		c.log.Debug("pubsub: write failed", zap.Error(err))
	}
}

func (c *connHandler) reply(id jsoniter.RawMessage, result any, rpcErr *rpcError) {
	c.writeJSON(rpcResponse{JSONRPC: "2.0", ID: id, Result: result, Error: rpcErr})
}

func (c *connHandler) notify(method string, sub SubID, result any) {
	c.writeJSON(rpcNotification{JSONRPC: "2.0", Method: method, Params: rpcNotificationParam{Result: result, Subscription: sub}})
}

func (c *connHandler) registerUnsub(id SubID, fn func() bool) {
	c.mu.Lock()
	c.unsub[id] = fn
	c.mu.Unlock()
}

func (c *connHandler) forget(id SubID) {
	c.mu.Lock()
	delete(c.unsub, id)
	c.mu.Unlock()
}

func (c *connHandler) dispatch(req rpcRequest) {
	switch req.Method {
	case "accountSubscribe":
		c.handleAccountSubscribe(req)
	case "accountUnsubscribe":
		c.handleUnsubscribe(req, c.hub.AccountUnsubscribe)
	case "programSubscribe":
		c.handleProgramSubscribe(req)
	case "programUnsubscribe":
		c.handleUnsubscribe(req, c.hub.ProgramUnsubscribe)
	case "signatureSubscribe":
		c.handleSignatureSubscribe(req)
	case "signatureUnsubscribe":
		c.handleUnsubscribe(req, c.hub.SignatureUnsubscribe)
	case "logsSubscribe":
		c.handleLogsSubscribe(req)
	case "logsUnsubscribe":
		c.handleUnsubscribe(req, c.hub.LogsUnsubscribe)
	case "slotSubscribe":
		c.handleSlotSubscribe(req)
	case "slotUnsubscribe":
		c.handleUnsubscribe(req, c.hub.SlotUnsubscribe)
	default:
		c.reply(req.ID, nil, &rpcError{Code: -32601, Message: "method not found"})
	}
}

func (c *connHandler) handleUnsubscribe(req rpcRequest, unsub func(SubID) bool) {
	var params [1]SubID
	if err := json.Unmarshal(req.Params, &params); err != nil {
		c.reply(req.ID, nil, &rpcError{Code: -32602, Message: "invalid params"})
		return
	}
	c.forget(params[0])
	c.reply(req.ID, unsub(params[0]), nil)
}

func (c *connHandler) handleAccountSubscribe(req rpcRequest) {
	var raw [1]string
	if err := json.Unmarshal(req.Params, &raw); err != nil || len(raw[0]) == 0 {
		c.reply(req.ID, nil, &rpcError{Code: -32602, Message: "invalid params"})
		return
	}
	pubkey, err := solanatypes.PubkeyFromBase58(raw[0])
	if err != nil {
		c.reply(req.ID, nil, &rpcError{Code: -32602, Message: "invalid pubkey"})
		return
	}

	id, ch := c.hub.AccountSubscribe(pubkey)
	c.registerUnsub(id, func() bool { return c.hub.AccountUnsubscribe(id) })
	c.reply(req.ID, id, nil)

	if account, ok, err := c.store.Get(pubkey); err == nil && ok {
		c.notify("accountNotification", id, AccountUpdate{Pubkey: pubkey, Account: account})
	}
	go func() {
		for update := range ch {
			c.notify("accountNotification", id, update)
		}
	}()
}

func (c *connHandler) handleProgramSubscribe(req rpcRequest) {
	var raw struct {
		Program string
		Filters []rawFilter
	}
	var params []jsoniter.RawMessage
	if err := json.Unmarshal(req.Params, &params); err != nil || len(params) == 0 {
		c.reply(req.ID, nil, &rpcError{Code: -32602, Message: "invalid params"})
		return
	}
	if err := json.Unmarshal(params[0], &raw.Program); err != nil {
		c.reply(req.ID, nil, &rpcError{Code: -32602, Message: "invalid params"})
		return
	}
	if len(params) > 1 {
		_ = json.Unmarshal(params[1], &raw.Filters)
	}
	owner, err := solanatypes.PubkeyFromBase58(raw.Program)
	if err != nil {
		c.reply(req.ID, nil, &rpcError{Code: -32602, Message: "invalid pubkey"})
		return
	}

	filters := make([]Filter, 0, len(raw.Filters))
	for _, f := range raw.Filters {
		filters = append(filters, f.toFilter())
	}

	id, ch := c.hub.ProgramSubscribe(owner, filters)
	c.registerUnsub(id, func() bool { return c.hub.ProgramUnsubscribe(id) })
	c.reply(req.ID, id, nil)
	go func() {
		for update := range ch {
			c.notify("programNotification", id, update)
		}
	}()
}

type rawFilter struct {
	DataSize *int `json:"dataSize"`
	Memcmp   *struct {
		Offset int    `json:"offset"`
		Bytes  string `json:"bytes"`
	} `json:"memcmp"`
}

func (f rawFilter) toFilter() Filter {
	if f.DataSize != nil {
		return DataSize(*f.DataSize)
	}
	if f.Memcmp != nil {
		decoded, _ := solanatypes.DecodeBase58(f.Memcmp.Bytes)
		return Memcmp{Offset: f.Memcmp.Offset, Bytes: decoded}
	}
	return DataSize(-1) // matches nothing; an unrecognized filter should exclude everything
}

func (c *connHandler) handleSignatureSubscribe(req rpcRequest) {
	var raw [1]string
	if err := json.Unmarshal(req.Params, &raw); err != nil {
		c.reply(req.ID, nil, &rpcError{Code: -32602, Message: "invalid params"})
		return
	}
	sig, err := solanatypes.SignatureFromBase58(raw[0])
	if err != nil {
		c.reply(req.ID, nil, &rpcError{Code: -32602, Message: "invalid signature"})
		return
	}

	id, ch, immediate := c.hub.SignatureSubscribe(sig, c.status)
	if immediate != nil {
		c.reply(req.ID, SubID(0), nil)
		c.notify("signatureNotification", 0, *immediate)
		return
	}
	c.registerUnsub(id, func() bool { return c.hub.SignatureUnsubscribe(id) })
	c.reply(req.ID, id, nil)
	go func() {
		for update := range ch {
			c.forget(id)
			c.notify("signatureNotification", id, update)
		}
	}()
}

func (c *connHandler) handleLogsSubscribe(req rpcRequest) {
	var filter struct {
		Mentions []string `json:"mentions"`
	}
	var params [1]jsoniter.RawMessage
	if err := json.Unmarshal(req.Params, &params); err != nil {
		c.reply(req.ID, nil, &rpcError{Code: -32602, Message: "invalid params"})
		return
	}
	var kind string
	if err := json.Unmarshal(params[0], &kind); err == nil && kind == "all" {
		id, ch := c.hub.LogsSubscribe(nil)
		c.registerUnsub(id, func() bool { return c.hub.LogsUnsubscribe(id) })
		c.reply(req.ID, id, nil)
		go c.pumpLogs(id, ch)
		return
	}
	if err := json.Unmarshal(params[0], &filter); err != nil || len(filter.Mentions) == 0 {
		c.reply(req.ID, nil, &rpcError{Code: -32602, Message: "invalid params"})
		return
	}
	mention, err := solanatypes.PubkeyFromBase58(filter.Mentions[0])
	if err != nil {
		c.reply(req.ID, nil, &rpcError{Code: -32602, Message: "invalid pubkey"})
		return
	}
	id, ch := c.hub.LogsSubscribe(&mention)
	c.registerUnsub(id, func() bool { return c.hub.LogsUnsubscribe(id) })
	c.reply(req.ID, id, nil)
	go c.pumpLogs(id, ch)
}

func (c *connHandler) pumpLogs(id SubID, ch <-chan LogsUpdate) {
	for update := range ch {
		c.notify("logsNotification", id, update)
	}
}

func (c *connHandler) handleSlotSubscribe(req rpcRequest) {
	id, ch := c.hub.SlotSubscribe()
	c.registerUnsub(id, func() bool { return c.hub.SlotUnsubscribe(id) })
	c.reply(req.ID, id, nil)
	go func() {
		for update := range ch {
			c.notify("slotNotification", id, update)
		}
	}()
}
