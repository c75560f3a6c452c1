package solana

import (
	"encoding/json"
	"time"
)

// SignatureInfo is one entry of an account's signature history.
// This is our domain model, independent of the RPC response format.
type SignatureInfo struct {
	Signature          string
	Slot               uint64
	BlockTime          *int64      // unix seconds, nil if the ledger has not recorded one
	Err                interface{} // nil if the transaction succeeded
	Memo               *string     // memo as reported by the signature listing, if any
	ConfirmationStatus string
}

// ParsedTransaction is a fully parsed transaction as returned by the
// ledger's jsonParsed encoding. Only the fields memo extraction needs are kept.
type ParsedTransaction struct {
	Signature    string
	Slot         uint64
	BlockTime    *int64      // unix seconds, nil if not confirmed
	Err          interface{} // execution error from the transaction meta, nil on success
	Instructions []ParsedInstruction
}

// ParsedInstruction is a single top-level instruction of a parsed transaction.
type ParsedInstruction struct {
	ProgramID string
	Program   string
	// Parsed is the raw "parsed" value. The memo program reports a plain
	// JSON string here; other parsers report an object.
	Parsed json.RawMessage
	// Data is the base58 payload for instructions the node could not parse.
	Data string
}

// Memo is a text payload carried by a confirmed, successful transaction.
type Memo struct {
	ID        string `json:"id"` // signature of the carrying transaction
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"` // block time, unix seconds
}

// Time returns the memo's block time.
func (m Memo) Time() time.Time {
	return time.Unix(m.Timestamp, 0)
}

// BlockReference is a recent blockhash together with the last block height
// at which a transaction built on it is still valid.
type BlockReference struct {
	Blockhash            string
	LastValidBlockHeight uint64
}
