package handler

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/xtxerr/salesdb/internal/errors"
	"github.com/xtxerr/salesdb/internal/logging"
	"github.com/xtxerr/salesdb/internal/storage"
	"github.com/xtxerr/salesdb/internal/storage/types"
	"github.com/xtxerr/salesdb/internal/wire"
)

// =============================================================================
// Engine
// =============================================================================

// Engine is the storage surface the handlers call. *storage.Store
// implements it.
type Engine interface {
	RegisterUser(ctx context.Context, user, pass string) (bool, error)
	Authenticate(ctx context.Context, user, pass string) (bool, error)

	RecordEvent(product string, qty int32, price float64) error
	Today(product string) (types.Stats, error)

	TotalQuantity(product string, days int) (int64, error)
	TotalVolume(product string, days int) (float64, error)
	AveragePrice(product string, days int) (float64, error)
	MaxPrice(product string, days int) (float64, error)
	PriceQuantile(product string, days int, q float64) (float64, error)
	FilteredEvents(products []string, days int) (map[string]types.Series, error)

	Epoch() uint64
	AwaitSimultaneous(ctx context.Context, a, b string, epoch uint64) error
	AwaitConsecutive(ctx context.Context, product string, n int, epoch uint64) error

	Status() storage.Status
}

// LoginLimiter throttles failed logins per remote IP.
type LoginLimiter interface {
	IsBlocked(ip string) bool
	RecordFailure(ip string) bool
	Reset(ip string)
}

type noLimit struct{}

func (noLimit) IsBlocked(string) bool     { return false }
func (noLimit) RecordFailure(string) bool { return false }
func (noLimit) Reset(string)              {}

// =============================================================================
// Request
// =============================================================================

// Request is one inbound frame together with the day epoch that was current
// when it arrived.
type Request struct {
	Session  *Session
	Frame    *wire.Frame
	Epoch    uint64
	Received time.Time
}

type handlerFunc func(ctx context.Context, req *Request) ([]byte, error)

// =============================================================================
// Handler
// =============================================================================

// Handler decodes requests, runs them against the engine and encodes the
// responses.
type Handler struct {
	engine  Engine
	limiter LoginLimiter
	ops     map[wire.Opcode]handlerFunc
}

// NewHandler creates a handler. A nil limiter disables login throttling.
func NewHandler(engine Engine, limiter LoginLimiter) *Handler {
	if limiter == nil {
		limiter = noLimit{}
	}
	h := &Handler{engine: engine, limiter: limiter}
	h.ops = map[wire.Opcode]handlerFunc{
		wire.OpRegister:          h.register,
		wire.OpLogin:             h.login,
		wire.OpAddEvent:          h.addEvent,
		wire.OpGetQuantity:       h.totalQuantity,
		wire.OpGetVolume:         h.windowFloat(engine.TotalVolume),
		wire.OpGetAvgPrice:       h.windowFloat(engine.AveragePrice),
		wire.OpGetMaxPrice:       h.windowFloat(engine.MaxPrice),
		wire.OpFilterEvents:      h.filterEvents,
		wire.OpSimultaneousSales: h.simultaneous,
		wire.OpConsecutiveSales:  h.consecutive,
		wire.OpPriceQuantile:     h.priceQuantile,
		wire.OpGetToday:          h.today,
		wire.OpStatus:            h.status,
	}
	return h
}

// NewRequest stamps f with the current epoch. Call it on the connection's
// read loop, before the request is handed to its own goroutine.
func (h *Handler) NewRequest(sess *Session, f *wire.Frame) *Request {
	return &Request{
		Session:  sess,
		Frame:    f,
		Epoch:    h.engine.Epoch(),
		Received: time.Now(),
	}
}

// Handle runs req and returns the response frame. It never returns nil:
// every failure becomes an ERROR frame carrying the error message.
func (h *Handler) Handle(req *Request) (resp *wire.Frame) {
	op := req.Frame.Opcode
	ctx := logging.ContextWithTag(req.Session.Context(), req.Frame.Tag)
	if user := req.Session.User(); user != "" {
		ctx = logging.ContextWithUser(ctx, user)
	}

	defer func() {
		if r := recover(); r != nil {
			logging.WithContext(ctx).Error("handler panic",
				"opcode", op, "panic", r, "stack", string(debug.Stack()))
			resp = errorFrame(req.Frame.Tag, fmt.Errorf("internal error handling %s", op))
			observe(op, outcomePanic, req.Received)
		}
	}()

	payload, err := h.dispatch(ctx, req)
	if err != nil {
		logRequestError(ctx, op, err)
		observe(op, errors.CategoryOf(err).String(), req.Received)
		return errorFrame(req.Frame.Tag, err)
	}

	observe(op, outcomeOK, req.Received)
	return &wire.Frame{Tag: req.Frame.Tag, Opcode: wire.OpOK, Payload: payload}
}

func (h *Handler) dispatch(ctx context.Context, req *Request) ([]byte, error) {
	op := req.Frame.Opcode
	fn, ok := h.ops[op]
	if !ok {
		return nil, fmt.Errorf("%w: %s", errors.ErrUnknownOpcode, op)
	}
	if op.RequiresLogin() && !req.Session.IsAuthenticated() {
		return nil, errors.ErrNotAuthenticated
	}
	return fn(ctx, req)
}

func errorFrame(tag int32, err error) *wire.Frame {
	msg, encErr := wire.EncodeString(err.Error())
	if encErr != nil {
		msg, _ = wire.EncodeString("internal error")
	}
	return &wire.Frame{Tag: tag, Opcode: wire.OpError, Payload: msg}
}

func logRequestError(ctx context.Context, op wire.Opcode, err error) {
	l := logging.WithContext(ctx)
	if errors.Is(err, context.Canceled) {
		l.Debug("request abandoned", "opcode", op)
		return
	}
	switch errors.CategoryOf(err) {
	case errors.CategoryInternal, errors.CategoryStorage:
		l.Error("request failed", "opcode", op, "error", err)
	default:
		l.Debug("request rejected", "opcode", op, "error", err)
	}
}

func okString(s string) ([]byte, error) {
	return wire.EncodeString(s)
}

// =============================================================================
// Users
// =============================================================================

func (h *Handler) register(ctx context.Context, req *Request) ([]byte, error) {
	creds, err := wire.DecodeCredentials(req.Frame.Payload)
	if err != nil {
		return nil, err
	}
	created, err := h.engine.RegisterUser(ctx, creds.User, creds.Pass)
	if err != nil {
		return nil, err
	}
	if !created {
		return nil, errors.ErrUserExists
	}
	return okString(wire.StatusRegistered)
}

func (h *Handler) login(ctx context.Context, req *Request) ([]byte, error) {
	ip := req.Session.RemoteIP
	if h.limiter.IsBlocked(ip) {
		return nil, errors.ErrRateLimited
	}

	creds, err := wire.DecodeCredentials(req.Frame.Payload)
	if err != nil {
		return nil, err
	}
	ok, err := h.engine.Authenticate(ctx, creds.User, creds.Pass)
	if err != nil {
		return nil, err
	}
	if !ok {
		if h.limiter.RecordFailure(ip) {
			logging.WithContext(ctx).Warn("login blocked after repeated failures", "ip", ip)
		}
		return nil, errors.ErrInvalidCredentials
	}

	h.limiter.Reset(ip)
	req.Session.SetUser(creds.User)
	logging.WithContext(ctx).Info("user logged in", "user", creds.User)
	return okString(wire.StatusWelcome + creds.User)
}

// =============================================================================
// Current day
// =============================================================================

func (h *Handler) addEvent(_ context.Context, req *Request) ([]byte, error) {
	ev, err := wire.DecodeAddEvent(req.Frame.Payload)
	if err != nil {
		return nil, err
	}
	if err := h.engine.RecordEvent(ev.Product, ev.Quantity, ev.Price); err != nil {
		return nil, err
	}
	return okString(wire.StatusRecorded)
}

func (h *Handler) today(_ context.Context, req *Request) ([]byte, error) {
	product, err := wire.DecodeString(req.Frame.Payload)
	if err != nil {
		return nil, err
	}
	st, err := h.engine.Today(product)
	if err != nil {
		return nil, err
	}
	return wire.Today{
		Count:         int32(st.Count),
		TotalQuantity: st.TotalQuantity,
		TotalVolume:   st.TotalVolume,
	}.Encode(), nil
}

// =============================================================================
// Window queries
// =============================================================================

func (h *Handler) totalQuantity(_ context.Context, req *Request) ([]byte, error) {
	q, err := wire.DecodeWindowQuery(req.Frame.Payload)
	if err != nil {
		return nil, err
	}
	v, err := h.engine.TotalQuantity(q.Product, int(q.Days))
	if err != nil {
		return nil, err
	}
	return wire.EncodeInt64(v), nil
}

func (h *Handler) windowFloat(fn func(string, int) (float64, error)) handlerFunc {
	return func(_ context.Context, req *Request) ([]byte, error) {
		q, err := wire.DecodeWindowQuery(req.Frame.Payload)
		if err != nil {
			return nil, err
		}
		v, err := fn(q.Product, int(q.Days))
		if err != nil {
			return nil, err
		}
		return wire.EncodeFloat64(v), nil
	}
}

func (h *Handler) priceQuantile(_ context.Context, req *Request) ([]byte, error) {
	q, err := wire.DecodeQuantileQuery(req.Frame.Payload)
	if err != nil {
		return nil, err
	}
	v, err := h.engine.PriceQuantile(q.Product, int(q.Days), q.Quantile)
	if err != nil {
		return nil, err
	}
	return wire.EncodeFloat64(v), nil
}

func (h *Handler) filterEvents(_ context.Context, req *Request) ([]byte, error) {
	q, err := wire.DecodeFilterQuery(req.Frame.Payload)
	if err != nil {
		return nil, err
	}
	res, err := h.engine.FilteredEvents(q.Products, int(q.Days))
	if err != nil {
		return nil, err
	}
	return wire.EncodeFilterResult(res)
}

// =============================================================================
// Blocking waits
// =============================================================================

func (h *Handler) simultaneous(ctx context.Context, req *Request) ([]byte, error) {
	q, err := wire.DecodeSimultaneous(req.Frame.Payload)
	if err != nil {
		return nil, err
	}
	if err := h.engine.AwaitSimultaneous(ctx, q.ProductA, q.ProductB, req.Epoch); err != nil {
		return nil, err
	}
	return okString(wire.StatusSimultaneous)
}

func (h *Handler) consecutive(ctx context.Context, req *Request) ([]byte, error) {
	q, err := wire.DecodeConsecutive(req.Frame.Payload)
	if err != nil {
		return nil, err
	}
	if err := h.engine.AwaitConsecutive(ctx, q.Product, int(q.N), req.Epoch); err != nil {
		return nil, err
	}
	return okString(wire.StatusConsecutive)
}

// =============================================================================
// Status
// =============================================================================

func (h *Handler) status(_ context.Context, _ *Request) ([]byte, error) {
	return StatusToWire(h.engine.Status()).Encode(), nil
}

// StatusToWire converts an engine status to its wire form.
func StatusToWire(st storage.Status) wire.Status {
	return wire.Status{
		Epoch:    int64(st.Epoch),
		DayID:    int32(st.DayID),
		Retained: int32(st.Retained),
		Resident: int32(st.Resident),
		Waiters:  int32(st.Waiters),
	}
}
