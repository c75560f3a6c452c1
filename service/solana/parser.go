package solana

import (
	"encoding/json"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// Well-known memo program IDs
var (
	// MemoProgramIDSPL is the SPL Memo program (most common)
	MemoProgramIDSPL = solana.MustPublicKeyFromBase58("MemoSq4gqABAXKb96qnH8TysNcWxMyWCqXgDLGmfcHr")

	// MemoProgramIDLegacy is the legacy memo program (v1)
	MemoProgramIDLegacy = solana.MustPublicKeyFromBase58("Memo1UhkJRfHyvLMcVucJwxXeuD728EqVDDwQDxFMNo")
)

// signatureToDomain converts an RPC TransactionSignature to our domain SignatureInfo.
func signatureToDomain(sig *rpc.TransactionSignature) SignatureInfo {
	info := SignatureInfo{
		Signature:          sig.Signature.String(),
		Slot:               sig.Slot,
		Err:                sig.Err,
		Memo:               sig.Memo,
		ConfirmationStatus: string(sig.ConfirmationStatus),
	}
	if sig.BlockTime != nil {
		bt := int64(*sig.BlockTime)
		info.BlockTime = &bt
	}
	return info
}

// ExtractMemo returns the memo carried by txn, attributed to signature.
// It reports false when txn is nil, has no block time, failed, or has no
// instruction for programID with a readable text payload. Only the first
// instruction addressed to programID is considered.
func ExtractMemo(txn *ParsedTransaction, signature string, programID solana.PublicKey) (Memo, bool) {
	if txn == nil || txn.BlockTime == nil || txn.Err != nil {
		return Memo{}, false
	}

	want := programID.String()
	for _, ix := range txn.Instructions {
		if ix.ProgramID != want {
			continue
		}
		content, ok := memoContent(ix.Parsed)
		if !ok {
			return Memo{}, false
		}
		return Memo{
			ID:        signature,
			Content:   content,
			Timestamp: *txn.BlockTime,
		}, true
	}
	return Memo{}, false
}

// memoContent reads the text out of a parsed memo payload. The payload is
// either a JSON string or an object with a string "memo" field.
func memoContent(parsed json.RawMessage) (string, bool) {
	if len(parsed) == 0 {
		return "", false
	}

	var text string
	if err := json.Unmarshal(parsed, &text); err == nil {
		return text, text != ""
	}

	var obj struct {
		Memo *string `json:"memo"`
	}
	if err := json.Unmarshal(parsed, &obj); err == nil && obj.Memo != nil {
		return *obj.Memo, *obj.Memo != ""
	}
	return "", false
}

// ParseProgramID parses a base58 program ID, naming the field in the error.
func ParseProgramID(s string) (solana.PublicKey, error) {
	pk, err := solana.PublicKeyFromBase58(s)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("invalid program id %q: %w", s, err)
	}
	return pk, nil
}
