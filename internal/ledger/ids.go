package ledger

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"
	tbtypes "github.com/tigerbeetle/tigerbeetle-go/pkg/types"
)

const (
	operatorAccountLabel = "acct:operator"
	counterAccountPrefix = "acct:counter:"
)

// ID128 deterministically maps a label to a TigerBeetle id.
func ID128(label string) tbtypes.Uint128 {
	sum := sha256.Sum256([]byte(label))
	var raw [16]byte
	copy(raw[:], sum[:16])
	return tbtypes.BytesToUint128(fixReserved(raw))
}

// OperatorAccountID is the counterparty of every counter transfer.
func OperatorAccountID() tbtypes.Uint128 {
	return ID128(operatorAccountLabel)
}

// CounterAccountID returns the account holding the counter at path.
func CounterAccountID(path string) tbtypes.Uint128 {
	return ID128(counterAccountPrefix + path)
}

// TransferID maps an apply id to its transfer id.
func TransferID(id uuid.UUID) tbtypes.Uint128 {
	return tbtypes.BytesToUint128(fixReserved([16]byte(id)))
}

// fixReserved keeps ids off the all-zero and all-ones values TB rejects.
func fixReserved(raw [16]byte) [16]byte {
	zero, ones := true, true
	for _, b := range raw {
		if b != 0 {
			zero = false
		}
		if b != 0xFF {
			ones = false
		}
	}
	if zero || ones {
		raw[0] ^= 0x01
	}
	return raw
}

// toUint64 narrows a TB amount, failing when the high half is set.
func toUint64(value tbtypes.Uint128) (uint64, error) {
	bytes := value.Bytes()
	if high := binary.LittleEndian.Uint64(bytes[8:]); high != 0 {
		return 0, fmt.Errorf("uint128 overflows uint64")
	}
	return binary.LittleEndian.Uint64(bytes[:8]), nil
}

// balance is credits minus debits of a counter account.
func balance(account tbtypes.Account) (int64, error) {
	credits, err := toUint64(account.CreditsPosted)
	if err != nil {
		return 0, err
	}
	debits, err := toUint64(account.DebitsPosted)
	if err != nil {
		return 0, err
	}
	return int64(credits - debits), nil
}
