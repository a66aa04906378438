package crypto

import (
	"bytes"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/clearinghouse/internal/domain"
)

// --------------------------------------------------------------------------
// EIP-712 type hashes (pre-computed keccak256 of the canonical type strings).
// --------------------------------------------------------------------------

var (
	// EIP712Domain(string name,string version,uint256 chainId)
	eip712DomainTypeHash = ethcrypto.Keccak256(
		[]byte("EIP712Domain(string name,string version,uint256 chainId)"),
	)

	// Order(address trader,bytes32 questionId,uint8 outcome,uint256 amount,uint256 price,uint256 nonce,uint256 expiration,uint8 side)
	orderTypeHash = ethcrypto.Keccak256(
		[]byte("Order(address trader,bytes32 questionId,uint8 outcome,uint256 amount,uint256 price,uint256 nonce,uint256 expiration,uint8 side)"),
	)
)

// Domain parameters for order hashing. The version is part of the separator,
// so bumping it invalidates every previously signed order.
const (
	domainName    = "ClearingHouse"
	domainVersion = "1"
)

// OrderHasher computes canonical order hashes under a fixed, versioned
// EIP-712 domain. The chain id separates deployments so an order signed for
// one environment can never replay against another.
type OrderHasher struct {
	chainID   int64
	domainSep []byte // cached domain separator hash
}

// NewOrderHasher creates an OrderHasher for the given chain id.
func NewOrderHasher(chainID int64) *OrderHasher {
	return &OrderHasher{
		chainID:   chainID,
		domainSep: buildDomainSeparator(domainName, domainVersion, chainID),
	}
}

// Hash returns the canonical EIP-712 digest of the order. The same structural
// content always hashes identically; this digest is the order's identity.
func (h *OrderHasher) Hash(o domain.Order) common.Hash {
	sideInt := int64(0)
	if o.Side == domain.SideSell {
		sideInt = 1
	}

	amount := o.Amount
	if amount == nil {
		amount = big.NewInt(0)
	}

	structHash := ethcrypto.Keccak256(
		concatBytes(
			orderTypeHash,
			common.LeftPadBytes(o.Trader.Bytes(), 32),
			o.QuestionID.Bytes(),
			bigIntTo32Bytes(big.NewInt(int64(o.Outcome))),
			bigIntTo32Bytes(amount),
			bigIntTo32Bytes(big.NewInt(o.Price)),
			bigIntTo32Bytes(new(big.Int).SetUint64(o.Nonce)),
			bigIntTo32Bytes(big.NewInt(o.Expiration)),
			bigIntTo32Bytes(big.NewInt(sideInt)),
		),
	)

	return common.BytesToHash(eip712Hash(h.domainSep, structHash))
}

// RecoverTrader recovers the signing address from a 65-byte r||s||v signature
// over the order's canonical digest.
func (h *OrderHasher) RecoverTrader(o domain.Order, sig []byte) (common.Address, error) {
	if len(sig) != 65 {
		return common.Address{}, fmt.Errorf("crypto: signature must be 65 bytes, got %d: %w", len(sig), domain.ErrBadSignature)
	}

	// go-ethereum expects v in {0,1}; signed payloads carry v in {27,28}.
	norm := bytes.Clone(sig)
	if norm[64] >= 27 {
		norm[64] -= 27
	}

	digest := h.Hash(o)
	pub, err := ethcrypto.SigToPub(digest.Bytes(), norm)
	if err != nil {
		return common.Address{}, fmt.Errorf("crypto: recover signer: %w", domain.ErrBadSignature)
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}

// Signer signs orders with a secp256k1 private key. It is used by matcher
// tooling and by tests; the engine itself only verifies.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	hasher     *OrderHasher
}

// NewSigner creates a Signer from a hex-encoded secp256k1 private key and the
// target chain id.
func NewSigner(privateKeyHex string, chainID int64) (*Signer, error) {
	pk, err := ParsePrivateKey(privateKeyHex)
	if err != nil {
		return nil, err
	}

	return &Signer{
		privateKey: pk,
		address:    ethcrypto.PubkeyToAddress(pk.PublicKey),
		hasher:     NewOrderHasher(chainID),
	}, nil
}

// Address returns the address derived from the signer's private key.
func (s *Signer) Address() common.Address {
	return s.address
}

// SignOrder signs the order's canonical digest and returns a 65-byte
// signature with the recovery byte adjusted to {27,28}.
func (s *Signer) SignOrder(o domain.Order) ([]byte, error) {
	digest := s.hasher.Hash(o)

	sig, err := ethcrypto.Sign(digest.Bytes(), s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("crypto: signing order: %w", err)
	}

	if sig[64] < 27 {
		sig[64] += 27
	}
	return sig, nil
}

// ParsePrivateKey parses a hex-encoded secp256k1 private key, accepting an
// optional 0x prefix.
func ParsePrivateKey(privateKeyHex string) (*ecdsa.PrivateKey, error) {
	keyHex := strings.TrimPrefix(privateKeyHex, "0x")
	pk, err := ethcrypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("crypto: invalid private key: %w", err)
	}
	return pk, nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// buildDomainSeparator returns keccak256(abi.encode(typeHash, nameHash, versionHash, chainId)).
func buildDomainSeparator(name, version string, chainID int64) []byte {
	return ethcrypto.Keccak256(
		concatBytes(
			eip712DomainTypeHash,
			ethcrypto.Keccak256([]byte(name)),
			ethcrypto.Keccak256([]byte(version)),
			bigIntTo32Bytes(big.NewInt(chainID)),
		),
	)
}

// eip712Hash computes the final EIP-712 digest:
//
//	keccak256("\x19\x01" || domainSeparator || structHash)
func eip712Hash(domainSep, structHash []byte) []byte {
	return ethcrypto.Keccak256(
		concatBytes(
			[]byte{0x19, 0x01},
			domainSep,
			structHash,
		),
	)
}

// bigIntTo32Bytes returns a 32-byte big-endian representation of n.
func bigIntTo32Bytes(n *big.Int) []byte {
	b := n.Bytes()
	if len(b) >= 32 {
		return b[:32]
	}
	padded := make([]byte, 32)
	copy(padded[32-len(b):], b)
	return padded
}

// concatBytes concatenates multiple byte slices into one.
func concatBytes(slices ...[]byte) []byte {
	total := 0
	for _, s := range slices {
		total += len(s)
	}
	buf := make([]byte, 0, total)
	for _, s := range slices {
		buf = append(buf, s...)
	}
	return buf
}
