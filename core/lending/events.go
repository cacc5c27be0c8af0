package lending

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"math/big"
	"sync"

	"lukechampine.com/blake3"
)

// EventKind enumerates the committed operations the engine announces.
type EventKind string

const (
	EventDeposit         EventKind = "lending.deposit"
	EventBorrow          EventKind = "lending.borrow"
	EventRepay           EventKind = "lending.repay"
	EventWithdraw        EventKind = "lending.withdraw"
	EventLiquidate       EventKind = "lending.liquidate"
	EventFeesCollected   EventKind = "lending.fees.collected"
	EventFeesDistributed EventKind = "lending.fees.distributed"
	// EventReservesWithdrawn marks an emergency withdrawal, which reduces
	// the reserve balance without counting as a treasury distribution.
	EventReservesWithdrawn EventKind = "lending.reserves.withdrawn"
	EventParamsUpdated     EventKind = "lending.params.updated"
)

// Event is the record emitted after every committed operation. ID is the
// hex blake3 digest of the canonical encoding, so identical events from
// a replay hash to the same identifier.
type Event struct {
	// ID is assigned on publish from the canonical encoding.
	ID string `json:"id"`
	// Sequence is a process-local monotonic counter assigned on publish.
	Sequence uint64    `json:"sequence"`
	Kind     EventKind `json:"kind"`
	// Principal is the acting account; Counterparty is the liquidation
	// target or the treasury for distributions, empty otherwise.
	Principal    string `json:"principal"`
	Counterparty string `json:"counterparty,omitempty"`
	// Amount is the operation amount. For liquidations it is the repaid
	// debt and Seized carries the collateral taken.
	Amount *big.Int `json:"amount,omitempty"`
	Seized *big.Int `json:"seized,omitempty"`
	// BorrowFee and SupplyFee carry the reserve split on fee events.
	BorrowFee *big.Int `json:"borrowFee,omitempty"`
	SupplyFee *big.Int `json:"supplyFee,omitempty"`
	Timestamp uint64   `json:"timestamp"`
}

// CanonicalHash digests the event fields that identify it. Sequence is
// excluded so the identifier is stable across restarts.
func (e Event) CanonicalHash() [32]byte {
	buf := bytes.NewBuffer(nil)
	writeDelimited(buf, []byte(string(e.Kind)))
	writeDelimited(buf, []byte(e.Principal))
	writeDelimited(buf, []byte(e.Counterparty))
	writeAmount(buf, e.Amount)
	writeAmount(buf, e.Seized)
	writeAmount(buf, e.BorrowFee)
	writeAmount(buf, e.SupplyFee)
	binary.Write(buf, binary.BigEndian, e.Timestamp)
	return blake3.Sum256(buf.Bytes())
}

func writeDelimited(buf *bytes.Buffer, data []byte) {
	length := uint32(len(data))
	binary.Write(buf, binary.BigEndian, length)
	if length > 0 {
		buf.Write(data)
	}
}

func writeAmount(buf *bytes.Buffer, v *big.Int) {
	if v == nil {
		writeDelimited(buf, nil)
		return
	}
	sign := byte(0)
	if v.Sign() < 0 {
		sign = 1
	}
	buf.WriteByte(sign)
	writeDelimited(buf, v.Bytes())
}

// EventSink consumes committed engine events. Implementations must not
// block: the engine publishes inside the guarded critical section.
type EventSink interface {
	HandleLendingEvent(evt Event)
}

// EventMux fans committed events out to every registered sink and
// assigns sequence numbers and canonical IDs.
type EventMux struct {
	mu    sync.RWMutex
	sinks []EventSink
	seq   uint64
}

// NewEventMux returns an empty mux.
func NewEventMux() *EventMux {
	return &EventMux{}
}

// Register adds a sink. Registration order is delivery order.
func (m *EventMux) Register(sink EventSink) {
	if m == nil || sink == nil {
		return
	}
	m.mu.Lock()
	m.sinks = append(m.sinks, sink)
	m.mu.Unlock()
}

// Publish stamps the event and delivers it to every sink.
func (m *EventMux) Publish(evt Event) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.seq++
	evt.Sequence = m.seq
	sinks := append([]EventSink(nil), m.sinks...)
	m.mu.Unlock()
	if evt.ID == "" {
		sum := evt.CanonicalHash()
		evt.ID = hex.EncodeToString(sum[:])
	}
	for _, sink := range sinks {
		sink.HandleLendingEvent(evt)
	}
}
