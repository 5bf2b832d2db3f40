package swap

import (
	"fmt"
	"math/big"
	"time"

	"github.com/klingon-exchange/klingon-bridge/internal/storage"
)

// Record is one transfer between a source and a destination platform,
// identified by the hash of the event that created it on the source side.
type Record struct {
	SourceHash string `json:"source_hash"`

	SourcePlatform      string `json:"source_platform"`
	SourceAddress       string `json:"source_address"`
	DestinationPlatform string `json:"destination_platform"`
	DestinationAddress  string `json:"destination_address"`

	// Amount is in the token's smallest unit.
	Symbol string   `json:"symbol"`
	Amount *big.Int `json:"amount"`

	State    State         `json:"state"`
	Failure  FailureReason `json:"failure,omitempty"`
	Attempts int           `json:"attempts"`

	BrokerID        string `json:"broker_id,omitempty"`
	DestinationHash string `json:"destination_hash,omitempty"`
	SettleHash      string `json:"settle_hash,omitempty"`

	// NextAttemptAt holds back the settle step until it has passed.
	NextAttemptAt time.Time `json:"next_attempt_at,omitempty"`

	CreatedAt   time.Time `json:"created_at,omitempty"`
	UpdatedAt   time.Time `json:"updated_at,omitempty"`
	CompletedAt time.Time `json:"completed_at,omitempty"`
}

// Status returns the visible status of the record.
func (r *Record) Status() Status {
	return StatusOf(r.State, r.Failure)
}

// Clone returns a deep copy of r.
func (r *Record) Clone() *Record {
	cp := *r
	if r.Amount != nil {
		cp.Amount = new(big.Int).Set(r.Amount)
	}
	return &cp
}

// String implements fmt.Stringer.
func (r *Record) String() string {
	return fmt.Sprintf("%s: %s => %s: %s %s [%s]",
		r.SourceHash, r.SourcePlatform, r.DestinationPlatform, r.amountText(), r.Symbol, r.Status())
}

func (r *Record) amountText() string {
	if r.Amount == nil {
		return "0"
	}
	return r.Amount.String()
}

// persistedEqual reports whether r and other would produce the same row.
func (r *Record) persistedEqual(other *Record) bool {
	return r.State == other.State &&
		r.Failure == other.Failure &&
		r.Attempts == other.Attempts &&
		r.BrokerID == other.BrokerID &&
		r.DestinationHash == other.DestinationHash &&
		r.SettleHash == other.SettleHash &&
		r.NextAttemptAt.Unix() == other.NextAttemptAt.Unix()
}

// toStorage converts the record into its storage row.
func (r *Record) toStorage() *storage.SwapRecord {
	return &storage.SwapRecord{
		SourceHash:          r.SourceHash,
		SourcePlatform:      r.SourcePlatform,
		SourceAddress:       r.SourceAddress,
		DestinationPlatform: r.DestinationPlatform,
		DestinationAddress:  r.DestinationAddress,
		Symbol:              r.Symbol,
		Amount:              r.Amount,
		State:               string(r.State),
		FailureReason:       string(r.Failure),
		Attempts:            r.Attempts,
		BrokerID:            r.BrokerID,
		DestinationHash:     r.DestinationHash,
		SettleHash:          r.SettleHash,
		NextAttemptAt:       r.NextAttemptAt,
		CreatedAt:           r.CreatedAt,
		UpdatedAt:           r.UpdatedAt,
		CompletedAt:         r.CompletedAt,
	}
}

// recordFromStorage converts a storage row into a Record.
func recordFromStorage(row *storage.SwapRecord) *Record {
	return &Record{
		SourceHash:          row.SourceHash,
		SourcePlatform:      row.SourcePlatform,
		SourceAddress:       row.SourceAddress,
		DestinationPlatform: row.DestinationPlatform,
		DestinationAddress:  row.DestinationAddress,
		Symbol:              row.Symbol,
		Amount:              row.Amount,
		State:               State(row.State),
		Failure:             FailureReason(row.FailureReason),
		Attempts:            row.Attempts,
		BrokerID:            row.BrokerID,
		DestinationHash:     row.DestinationHash,
		SettleHash:          row.SettleHash,
		NextAttemptAt:       row.NextAttemptAt,
		CreatedAt:           row.CreatedAt,
		UpdatedAt:           row.UpdatedAt,
		CompletedAt:         row.CompletedAt,
	}
}
