package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"defiapps/core/state"
	"defiapps/native/amm"
	"defiapps/native/bank"
	nativecommon "defiapps/native/common"
	"defiapps/native/lending"
	"defiapps/native/oracle"
	"defiapps/native/router"
	"defiapps/native/staking"
	"defiapps/observability"
	"defiapps/storage"
)

const (
	moduleBank    = "bank"
	moduleAMM     = "amm"
	moduleRouter  = "router"
	moduleOracle  = "oracle"
	moduleLending = "lending"
	moduleStaking = "staking"
)

// Config carries the parameters the node binds into every engine.
type Config struct {
	// Admin gates pool administration and token minting.
	Admin common.Address
	// BaseToken denominates oracle prices.
	BaseToken common.Address
	// NativeToken and WrappedNative enable 1:1 wrapping when both are set.
	NativeToken   common.Address
	WrappedNative common.Address
	// FeeBps is the swap fee charged by every pair.
	FeeBps uint64
	// OracleWindow and OracleGranularity shape the windowed oracle.
	OracleWindow      uint64
	OracleGranularity uint64
	// Pauses lists modules whose entry operations are blocked.
	Pauses map[string]bool
	Logger *slog.Logger
	// Clock overrides time.Now.
	Clock func() time.Time
}

type pauseSet map[string]bool

func (p pauseSet) IsPaused(module string) bool { return p[module] }

// Node is the central controller. It serialises every operation and executes
// it against a journal over the database so a failed operation leaves no
// trace.
type Node struct {
	db      storage.Database
	stateMu sync.Mutex

	admin         common.Address
	baseToken     common.Address
	nativeToken   common.Address
	wrappedNative common.Address
	feeBps        uint64
	window        uint64
	granularity   uint64
	pauses        pauseSet

	routerAddress  common.Address
	lendingAddress common.Address

	nowFn  func() time.Time
	logger *slog.Logger
	tracer trace.Tracer
}

// engines is the set of modules bound to one journal.
type engines struct {
	manager  *state.Manager
	ledger   *bank.Ledger
	exchange *amm.Engine
	router   *router.Router
	spot     *oracle.Spot
	windowed *oracle.Windowed
	lending  *lending.Engine
	staking  *staking.Engine
}

// ModuleAddress derives the account a module holds funds under.
func ModuleAddress(name string) common.Address {
	return common.BytesToAddress(crypto.Keccak256([]byte("defi/module/" + name))[12:])
}

func NewNode(db storage.Database, cfg Config) (*Node, error) {
	if db == nil {
		return nil, errors.New("node: database required")
	}
	if cfg.Admin == (common.Address{}) {
		return nil, fmt.Errorf("%w: admin address required", nativecommon.ErrInvalidConfig)
	}
	if cfg.BaseToken == (common.Address{}) {
		return nil, fmt.Errorf("%w: base token required", nativecommon.ErrInvalidConfig)
	}
	if cfg.FeeBps >= amm.BasisPoints {
		return nil, fmt.Errorf("%w: fee %d bps", nativecommon.ErrInvalidConfig, cfg.FeeBps)
	}
	wrapping := cfg.WrappedNative != (common.Address{})
	if wrapping != (cfg.NativeToken != (common.Address{})) || (wrapping && cfg.NativeToken == cfg.WrappedNative) {
		return nil, fmt.Errorf("%w: native and wrapped tokens must be distinct and set together", nativecommon.ErrInvalidConfig)
	}
	if _, err := oracle.NewWindowed(cfg.BaseToken, nil, cfg.OracleWindow, cfg.OracleGranularity); err != nil {
		return nil, err
	}
	pauses := make(pauseSet, len(cfg.Pauses))
	for module, paused := range cfg.Pauses {
		pauses[module] = paused
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	nowFn := cfg.Clock
	if nowFn == nil {
		nowFn = time.Now
	}
	return &Node{
		db:             db,
		admin:          cfg.Admin,
		baseToken:      cfg.BaseToken,
		nativeToken:    cfg.NativeToken,
		wrappedNative:  cfg.WrappedNative,
		feeBps:         cfg.FeeBps,
		window:         cfg.OracleWindow,
		granularity:    cfg.OracleGranularity,
		pauses:         pauses,
		routerAddress:  ModuleAddress(moduleRouter),
		lendingAddress: ModuleAddress(moduleLending),
		nowFn:          nowFn,
		logger:         logger.With("component", "node"),
		tracer:         otel.Tracer("defiapps/core"),
	}, nil
}

func (n *Node) Admin() common.Address          { return n.admin }
func (n *Node) BaseToken() common.Address      { return n.baseToken }
func (n *Node) RouterAddress() common.Address  { return n.routerAddress }
func (n *Node) LendingAddress() common.Address { return n.lendingAddress }

// Now returns the node clock reading.
func (n *Node) Now() time.Time { return n.nowFn() }

func (n *Node) bind(backend state.Backend) (*engines, error) {
	manager := state.NewManager(backend)
	ledger := bank.NewLedger(manager)

	exchange := amm.NewEngine(n.feeBps)
	exchange.SetState(manager)
	exchange.SetLedger(ledger)
	exchange.SetPauses(n.pauses)

	rt := router.New(n.routerAddress, exchange, ledger)
	rt.SetClock(n.nowFn)

	spot := oracle.NewSpot(n.baseToken, exchange)
	windowed, err := oracle.NewWindowed(n.baseToken, exchange, n.window, n.granularity)
	if err != nil {
		return nil, err
	}
	windowed.SetState(manager)
	windowed.SetClock(n.nowFn)

	lend := lending.NewEngine(n.lendingAddress, n.admin)
	lend.SetState(manager)
	lend.SetLedger(ledger)
	lend.SetOracle(oracle.KindSpot, spot)
	lend.SetOracle(oracle.KindWindowed, windowed)
	lend.SetPauses(n.pauses)
	lend.SetClock(n.nowFn)

	stk := staking.NewEngine()
	stk.SetState(manager)
	stk.SetLedger(ledger)
	stk.SetPauses(n.pauses)
	stk.SetClock(n.nowFn)

	return &engines{
		manager:  manager,
		ledger:   ledger,
		exchange: exchange,
		router:   rt,
		spot:     spot,
		windowed: windowed,
		lending:  lend,
		staking:  stk,
	}, nil
}

// atomic runs fn under the state lock and commits its writes as one batch
// when it returns nil.
func (n *Node) atomic(ctx context.Context, module, operation string, fn func(*engines) error) error {
	return n.run(ctx, module, operation, true, fn)
}

// view runs fn under the state lock and discards every write, so queries can
// project accrual without persisting it.
func (n *Node) view(ctx context.Context, module, operation string, fn func(*engines) error) error {
	return n.run(ctx, module, operation, false, fn)
}

func (n *Node) run(ctx context.Context, module, operation string, commit bool, fn func(*engines) error) (err error) {
	if ctx == nil {
		ctx = context.Background()
	}
	_, span := n.tracer.Start(ctx, module+"."+operation, trace.WithAttributes(
		attribute.String("defi.module", module),
		attribute.Bool("defi.mutating", commit),
	))
	started := time.Now()
	defer func() {
		reason := ErrorReason(err)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, reason)
			if commit {
				n.logger.Warn("operation rejected",
					slog.String("module", module),
					slog.String("operation", operation),
					slog.String("reason", reason),
					slog.Any("error", err))
			}
		}
		span.End()
		observability.ModuleMetrics().Observe(module, operation, reason, err, time.Since(started))
	}()

	n.stateMu.Lock()
	defer n.stateMu.Unlock()

	journal := state.NewJournal(n.db)
	defer journal.Discard()
	eng, err := n.bind(journal)
	if err != nil {
		return err
	}
	if err := fn(eng); err != nil {
		return err
	}
	if !commit {
		return nil
	}
	if err := journal.Commit(); err != nil {
		return fmt.Errorf("commit %s.%s: %w", module, operation, err)
	}
	return nil
}

func (n *Node) requireAdmin(caller common.Address) error {
	if caller != n.admin {
		return fmt.Errorf("%w: %s is not the node admin", nativecommon.ErrUnauthorized, caller.Hex())
	}
	return nil
}

// ErrorReason classifies err into a stable label for metrics and API
// responses.
func ErrorReason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, nativecommon.ErrValidation):
		return "validation"
	case errors.Is(err, nativecommon.ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, nativecommon.ErrInsufficientLiquidity):
		return "insufficient_liquidity"
	case errors.Is(err, nativecommon.ErrInsufficientShares):
		return "insufficient_shares"
	case errors.Is(err, nativecommon.ErrAccountUnhealthy):
		return "account_unhealthy"
	case errors.Is(err, nativecommon.ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, nativecommon.ErrDeadlineExpired):
		return "deadline_expired"
	case errors.Is(err, nativecommon.ErrStaleOracle):
		return "stale_oracle"
	case errors.Is(err, nativecommon.ErrModulePaused):
		return "paused"
	case errors.Is(err, nativecommon.ErrOverflow):
		return "overflow"
	case errors.Is(err, lending.ErrPoolInactive):
		return "inactive"
	case errors.Is(err, lending.ErrPoolExists):
		return "conflict"
	case errors.Is(err, amm.ErrPairNotFound),
		errors.Is(err, router.ErrNoRoute),
		errors.Is(err, lending.ErrPoolNotFound),
		errors.Is(err, staking.ErrPoolNotFound):
		return "not_found"
	default:
		return "internal"
	}
}
