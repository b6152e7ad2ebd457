package engine

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"log"
	"math"
	"time"

	"github.com/quantro/meanrev/broker"
	"github.com/quantro/meanrev/journal"
	"github.com/quantro/meanrev/ledger"
	"github.com/quantro/meanrev/risk"
)

// Snapshot is the serialised engine state written to the store on every
// state transition and loaded back on restart.
type Snapshot struct {
	LastBarTime time.Time        `json:"last_bar_time"`
	Phase       Phase            `json:"phase"`
	Position    *ledger.Position `json:"position,omitempty"`
	Risk        risk.State       `json:"risk"`
	Window      []float64        `json:"window"`
	LastZ       float64          `json:"last_z"`
}

// ContentHash ties a snapshot to the exact configuration and window it
// was produced under. A restart refuses to resume when it differs.
func ContentHash(fingerprint string, window []float64) string {
	h := fnv.New64a()
	h.Write([]byte(fingerprint))
	var buf [8]byte
	for _, v := range window {
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(v))
		h.Write(buf[:])
	}
	return fmt.Sprintf("%016x", h.Sum64())
}

// CurrentSnapshot captures the engine state.
func (e *Engine) CurrentSnapshot() Snapshot {
	snap := Snapshot{
		LastBarTime: e.lastBarTime,
		Phase:       e.phase,
		Risk:        e.gate.Snapshot(),
		Window:      e.gen.Stats().Window(),
		LastZ:       e.lastZ,
	}
	if pos, ok := e.led.Position(); ok {
		snap.Position = &pos
	}
	return snap
}

// snapshot appends the current state to the store. A failed append marks
// the store unhealthy; the transition that produced it is not acknowledged.
func (e *Engine) snapshot() {
	snap := e.CurrentSnapshot()

	state, err := json.Marshal(snap)
	if err != nil {
		e.deferredErr = fmt.Errorf("marshal snapshot: %w", err)
		return
	}

	rec := journal.SnapshotRecord{
		LastBarTime: snap.LastBarTime,
		Fingerprint: e.cfg.Fingerprint(),
		ContentHash: ContentHash(e.cfg.Fingerprint(), snap.Window),
		State:       state,
	}
	if err := e.store.AppendSnapshot(rec); err != nil {
		e.deferredErr = err
	}
}

// snapshotLoader is the query side the engine needs for restarts. The
// SQLite store provides it; the Noop journal does not, which makes
// Restore a cold start there.
type snapshotLoader interface {
	LatestSnapshot(fingerprint string) (journal.SnapshotRecord, bool, error)
}

// Restore loads the latest snapshot matching the current config
// fingerprint and reconciles it against the broker's view of positions.
func (e *Engine) Restore(ctx context.Context) error {
	loader, ok := e.store.(snapshotLoader)
	if !ok {
		log.Printf("[INFO] engine: store has no snapshots, starting cold")
		return nil
	}

	rec, found, err := loader.LatestSnapshot(e.cfg.Fingerprint())
	if err != nil {
		return fmt.Errorf("engine: load snapshot: %w", err)
	}
	if !found {
		log.Printf("[WARN] engine: no snapshot for config fingerprint %s, starting cold", e.cfg.Fingerprint())
		return nil
	}

	var snap Snapshot
	if err := json.Unmarshal(rec.State, &snap); err != nil {
		log.Printf("[WARN] engine: snapshot unreadable (%v), starting cold", err)
		return nil
	}

	if ContentHash(e.cfg.Fingerprint(), snap.Window) != rec.ContentHash {
		log.Printf("[WARN] engine: snapshot content hash mismatch, starting cold")
		return nil
	}

	if err := e.gen.Seed(snap.Window); err != nil {
		log.Printf("[WARN] engine: cannot reseed window (%v), starting cold", err)
		return nil
	}

	e.gate.Restore(snap.Risk)
	e.lastBarTime = snap.LastBarTime
	e.lastZ = snap.LastZ
	e.led.Restore(snap.Position)

	// Transient phases are not resumable: an Entering intent never filled
	// as far as the record shows, an Exiting one still holds the position.
	switch snap.Phase {
	case Open, Exiting:
		e.phase = Open
	default:
		e.phase = Idle
	}
	if _, ok := e.led.Position(); !ok {
		e.phase = Idle
	}
	e.syncView()

	log.Printf("[INFO] engine: restored snapshot at %s (phase %s)",
		snap.LastBarTime.Format(time.RFC3339), e.phase)

	return e.reconcile(ctx)
}

// reconcile compares the restored position against broker truth.
func (e *Engine) reconcile(ctx context.Context) error {
	reports, err := e.brk.Positions(ctx)
	if err != nil {
		return fmt.Errorf("engine: query broker positions: %w", err)
	}

	var brokerPos *broker.PositionReport
	for i := range reports {
		if reports[i].Symbol == e.cfg.Symbol {
			brokerPos = &reports[i]
			break
		}
	}

	pos, haveLocal := e.led.Position()

	switch {
	case !haveLocal && brokerPos == nil:
		return nil

	case haveLocal && brokerPos != nil && matches(pos, *brokerPos):
		log.Printf("[INFO] engine: broker position matches snapshot, resuming")
		return nil

	case haveLocal && brokerPos == nil:
		// Broker truth wins: the position was closed while we were down.
		// Synthesise the close at the last known mark.
		mark := pos.EntryPrice
		if w := e.gen.Stats().Window(); len(w) > 0 {
			mark = w[len(w)-1]
		}
		log.Printf("[WARN] engine: broker is flat but snapshot was open, synthesising close @ %.2f", mark)

		trade, err := e.led.Close(e.newID(), mark, e.lastBarTime, e.lastZ, ledger.ReasonForceFlatten)
		if err != nil {
			return fmt.Errorf("engine: synthesise close: %w", err)
		}
		e.phase = Idle
		e.finishClose(trade)
		e.syncView()
		return e.deferredErr

	default:
		// Broker holds a position we have no entry details for. Do not
		// guess: flatten it.
		log.Printf("[WARN] engine: broker holds %d %s with no matching snapshot, flattening",
			brokerPos.Size, brokerPos.Symbol)

		side := broker.Sell
		size := brokerPos.Size
		if size < 0 {
			side = broker.Buy
			size = -size
		}

		intent := &pendingIntent{
			id:        e.newID(),
			kind:      pendingReconcileFlatten,
			submitted: e.lastBarTime,
			size:      size,
		}
		e.pending = intent

		if err := e.brk.PlaceMarketOrder(ctx, broker.MarketOrderRequest{
			IntentID: intent.id,
			Symbol:   e.cfg.Symbol,
			Side:     side,
			Size:     size,
		}); err != nil {
			e.pending = nil
			return fmt.Errorf("engine: reconciliation flatten: %w", err)
		}
		return nil
	}
}

func matches(pos ledger.Position, rep broker.PositionReport) bool {
	signed := pos.Size
	if pos.Side == ledger.Short {
		signed = -pos.Size
	}
	return signed == rep.Size
}
