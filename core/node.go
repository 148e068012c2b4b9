package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	coreerrors "brokerchain/core/errors"
	"brokerchain/core/events"
	"brokerchain/core/state"
	"brokerchain/core/types"
	nativecommon "brokerchain/native/common"
	"brokerchain/native/custody"
	"brokerchain/native/ledger"
	"brokerchain/native/offers"
	"brokerchain/native/params"
	"brokerchain/native/spend"
	"brokerchain/native/swap"
	"brokerchain/native/withdraw"
	"brokerchain/observability"
	"brokerchain/storage"
	"brokerchain/storage/trie"
)

var headKey = []byte("broker/head")

const (
	OutcomeCommitted = "committed"
	OutcomeDeclined  = "declined"
	OutcomeAborted   = "aborted"
)

// Options wires the node to its collaborators.
type Options struct {
	Owner          [20]byte
	CustodyAddress [20]byte
	Gateways       custody.Resolver
	Emitter        events.Emitter
	Logger         *slog.Logger
	Metrics        *observability.BrokerOpMetrics
	Now            func() int64
}

// Node serialises broker operations over the authenticated ledger. Every
// operation runs against the last committed root and either commits as a
// whole or leaves no trace.
type Node struct {
	mu      sync.Mutex
	db      storage.Database
	trie    *trie.Trie
	seq     uint64
	custody [20]byte
	gateway custody.Resolver
	emitter events.Emitter
	logger  *slog.Logger
	metrics *observability.BrokerOpMetrics
	nowFn   func() int64
	tracer  trace.Tracer
}

type storedHead struct {
	Root common.Hash
	Seq  uint64
}

// Op is the execution context handed to an operation body. Engines share the
// operation's state manager and publish into its event buffer.
type Op struct {
	Ctx      context.Context
	Auth     nativecommon.Authorizer
	Settings params.Settings
	Params   *params.Store
	Ledger   *ledger.Ledger
	Offers   *offers.Engine
	Withdraw *withdraw.Engine
	Swaps    *swap.Engine
	Spend    *spend.Engine
	Custody  *custody.Engine

	emitter events.Emitter
}

// Emit publishes evt with the operation's other events.
func (o *Op) Emit(evt *types.Event) {
	if o == nil || evt == nil {
		return
	}
	o.emitter.Emit(events.Record{Evt: evt})
}

// NewNode opens the ledger at the persisted head and bootstraps the owner on a
// fresh database.
func NewNode(db storage.Database, opts Options) (*Node, error) {
	if db == nil {
		return nil, fmt.Errorf("core: database required")
	}
	head, err := loadHead(db)
	if err != nil {
		return nil, err
	}
	var root []byte
	if head.Root != (common.Hash{}) {
		root = head.Root.Bytes()
	}
	tr, err := trie.NewTrie(db, root)
	if err != nil {
		return nil, fmt.Errorf("core: open ledger: %w", err)
	}
	n := &Node{
		db:      db,
		trie:    tr,
		seq:     head.Seq,
		custody: opts.CustodyAddress,
		gateway: opts.Gateways,
		emitter: opts.Emitter,
		logger:  opts.Logger,
		metrics: opts.Metrics,
		nowFn:   opts.Now,
		tracer:  otel.Tracer("brokerchain/core"),
	}
	if n.emitter == nil {
		n.emitter = events.NoopEmitter{}
	}
	if n.logger == nil {
		n.logger = slog.Default()
	}
	if n.nowFn == nil {
		n.nowFn = func() int64 { return time.Now().Unix() }
	}
	if err := n.bootstrap(opts.Owner); err != nil {
		return nil, err
	}
	return n, nil
}

func loadHead(db storage.Database) (storedHead, error) {
	raw, err := db.Get(headKey)
	if errors.Is(err, storage.ErrNotFound) {
		return storedHead{}, nil
	}
	if err != nil {
		return storedHead{}, fmt.Errorf("core: read head: %w", err)
	}
	var head storedHead
	if err := rlp.DecodeBytes(raw, &head); err != nil {
		return storedHead{}, fmt.Errorf("core: decode head: %w", err)
	}
	return head, nil
}

func (n *Node) bootstrap(owner [20]byte) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.run(context.Background(), "bootstrap", nil, false, func(op *Op) error {
		settings, created, err := op.Params.Bootstrap(owner)
		if err != nil {
			return err
		}
		if !created && owner != ([20]byte{}) && settings.Owner != owner {
			n.logger.Warn("configured owner differs from ledger owner; keeping ledger owner")
		}
		return nil
	})
}

func (n *Node) now() int64 { return n.nowFn() }

// StateRoot returns the last committed ledger root.
func (n *Node) StateRoot() common.Hash {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.trie.Root()
}

// Sequence returns the number of committed operations.
func (n *Node) Sequence() uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.seq
}

// Execute runs fn as one atomic operation. A nil result commits the ledger and
// publishes the buffered events. A decline rolls the ledger back but still
// publishes what the operation emitted (fill failure notices). Any other error
// rolls back and drops the events.
func (n *Node) Execute(ctx context.Context, name string, auth nativecommon.Authorizer, fn func(*Op) error) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.run(ctx, name, auth, true, fn)
}

// View runs fn against a copy of the committed ledger. Writes made by fn are
// discarded.
func (n *Node) View(fn func(*Op) error) error {
	n.mu.Lock()
	view := n.trie.Copy()
	n.mu.Unlock()

	op, err := n.newOp(context.Background(), nil, state.NewManager(view), events.NoopEmitter{}, true)
	if err != nil {
		return err
	}
	return fn(op)
}

func (n *Node) newOp(ctx context.Context, auth nativecommon.Authorizer, mgr *state.Manager, emitter events.Emitter, withSettings bool) (*Op, error) {
	store := params.NewStore(mgr)
	op := &Op{Ctx: ctx, Auth: auth, Params: store, emitter: emitter}
	if withSettings {
		settings, err := store.Settings()
		if err != nil {
			return nil, err
		}
		op.Settings = settings
	}

	op.Ledger = ledger.NewLedger()
	op.Ledger.SetState(mgr)
	op.Ledger.SetEmitter(emitter)

	op.Spend = spend.NewEngine()
	op.Spend.SetState(mgr)
	op.Spend.SetLedger(op.Ledger)
	op.Spend.SetEmitter(emitter)

	op.Offers = offers.NewEngine()
	op.Offers.SetState(mgr)
	op.Offers.SetLedger(op.Ledger)
	op.Offers.SetEmitter(emitter)
	op.Offers.SetNowFunc(n.nowFn)

	op.Swaps = swap.NewEngine()
	op.Swaps.SetState(mgr)
	op.Swaps.SetLedger(op.Ledger)
	op.Swaps.SetEmitter(emitter)
	op.Swaps.SetNowFunc(n.nowFn)

	op.Custody = custody.NewEngine()
	op.Custody.SetState(mgr)
	op.Custody.SetLedger(op.Ledger)
	op.Custody.SetCustodyAddress(n.custody)
	op.Custody.SetEmitter(emitter)

	op.Withdraw = withdraw.NewEngine()
	op.Withdraw.SetState(mgr)
	op.Withdraw.SetLedger(op.Ledger)
	op.Withdraw.SetWhitelist(op.Spend)
	op.Withdraw.SetCustodyAddress(n.custody)
	op.Withdraw.SetEmitter(emitter)
	op.Withdraw.SetNowFunc(n.nowFn)

	if n.gateway != nil {
		op.Custody.SetGateways(n.gateway)
		op.Withdraw.SetGateways(n.gateway)
	}
	return op, nil
}

func (n *Node) run(ctx context.Context, name string, auth nativecommon.Authorizer, withSettings bool, fn func(*Op) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, span := n.tracer.Start(ctx, "broker."+name, trace.WithAttributes(
		attribute.String("broker.operation", name),
	))
	defer span.End()
	start := time.Now()
	parent := n.trie.Root()
	buf := &events.Buffer{}

	op, err := n.newOp(ctx, auth, state.NewManager(n.trie), buf, withSettings)
	if err == nil {
		err = fn(op)
	}

	outcome := OutcomeCommitted
	switch {
	case err == nil:
		root, commitErr := n.commit(parent)
		if commitErr != nil {
			err = coreerrors.Fatal(commitErr)
			outcome = OutcomeAborted
			n.rollback(parent)
			buf.Discard()
			break
		}
		n.metrics.RecordCommit()
		buf.Flush(n.emitter)
		n.logger.Info("broker operation",
			slog.String("operation", name),
			slog.String("outcome", outcome),
			slog.Uint64("seq", n.seq),
			slog.String("root", root.Hex()))
	case coreerrors.IsDeclined(err) && !coreerrors.IsFatal(err):
		outcome = OutcomeDeclined
		n.rollback(parent)
		buf.Flush(n.emitter)
		var failure *offers.FillFailure
		if errors.As(err, &failure) {
			n.metrics.RecordFillFailure(failure.Reason.String())
		}
		n.logger.Info("broker operation",
			slog.String("operation", name),
			slog.String("outcome", outcome),
			slog.String("reason", err.Error()))
	default:
		outcome = OutcomeAborted
		n.rollback(parent)
		buf.Discard()
		n.logger.Error("broker operation aborted",
			slog.String("operation", name),
			slog.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "aborted")
	}
	span.SetAttributes(
		attribute.String("broker.outcome", outcome),
		attribute.Int64("broker.seq", int64(n.seq)),
	)
	n.metrics.ObserveOperation(name, outcome, time.Since(start))
	return err
}

func (n *Node) commit(parent common.Hash) (common.Hash, error) {
	root, err := n.trie.Commit(parent, n.seq+1)
	if err != nil {
		return common.Hash{}, err
	}
	encoded, err := rlp.EncodeToBytes(&storedHead{Root: root, Seq: n.seq + 1})
	if err != nil {
		return common.Hash{}, err
	}
	if err := n.db.Put(headKey, encoded); err != nil {
		return common.Hash{}, fmt.Errorf("core: persist head: %w", err)
	}
	n.seq++
	return root, nil
}

func (n *Node) rollback(root common.Hash) {
	if err := n.trie.Reset(root); err != nil {
		n.logger.Error("ledger rollback failed", slog.String("root", root.Hex()), slog.Any("error", err))
	}
}
