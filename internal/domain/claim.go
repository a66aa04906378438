package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// MaxBatchClaims caps the number of entries accepted by a batch claim call.
const MaxBatchClaims = 50

// ClaimRequest asks to redeem the caller's full balance of one winning
// outcome token. Claims are all-or-nothing per token; partial claims are not
// supported.
type ClaimRequest struct {
	QuestionID common.Hash   `json:"questionId"`
	Epoch      uint64        `json:"epoch"`
	Outcome    uint8         `json:"outcome"`
	Proof      []common.Hash `json:"proof"`
}

// ClaimReceipt records a completed redemption: the burned token balance and
// the net/fee split of the unlocked collateral.
type ClaimReceipt struct {
	ID          string
	Claimer     common.Address
	QuestionID  common.Hash
	ConditionID common.Hash
	Epoch       uint64
	Outcome     uint8
	Burned      *big.Int
	Net         *big.Int
	Fee         *big.Int
	CreatedAt   time.Time
}

// BatchClaimResult summarizes a batch claim. Invalid entries are skipped, not
// rejected; Processed counts the entries that actually paid out.
type BatchClaimResult struct {
	Receipts  []ClaimReceipt
	Processed int
	Skipped   int
	TotalNet  *big.Int
	TotalFee  *big.Int
}
