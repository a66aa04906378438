package crypto

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/clearinghouse/internal/domain"
)

const testKeyHex = "0x59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d"

func testOrder(trader [20]byte) domain.Order {
	o := domain.Order{
		Amount: big.NewInt(1000),
		Price:  6000,
		Nonce:  7,
		Side:   domain.SideBuy,
	}
	copy(o.Trader[:], trader[:])
	o.QuestionID[0] = 0x11
	return o
}

func TestHashIsDeterministic(t *testing.T) {
	h := NewOrderHasher(1)
	o := testOrder([20]byte{0xaa})

	require.Equal(t, h.Hash(o), h.Hash(o))

	// Any field change produces a different identity.
	mutations := []func(*domain.Order){
		func(o *domain.Order) { o.Amount = big.NewInt(1001) },
		func(o *domain.Order) { o.Price = 6001 },
		func(o *domain.Order) { o.Nonce = 8 },
		func(o *domain.Order) { o.Outcome = 1 },
		func(o *domain.Order) { o.Expiration = 1 },
		func(o *domain.Order) { o.Side = domain.SideSell },
		func(o *domain.Order) { o.Trader[0] = 0xbb },
		func(o *domain.Order) { o.QuestionID[1] = 0x22 },
	}
	for i, mutate := range mutations {
		m := o
		mutate(&m)
		require.NotEqual(t, h.Hash(o), h.Hash(m), "mutation %d collided", i)
	}
}

func TestHashSeparatesChains(t *testing.T) {
	o := testOrder([20]byte{0xaa})
	require.NotEqual(t, NewOrderHasher(1).Hash(o), NewOrderHasher(137).Hash(o))
}

func TestSignAndRecover(t *testing.T) {
	signer, err := NewSigner(testKeyHex, 1)
	require.NoError(t, err)

	o := testOrder([20]byte{})
	o.Trader = signer.Address()

	sig, err := signer.SignOrder(o)
	require.NoError(t, err)
	require.Len(t, sig, 65)
	require.True(t, sig[64] == 27 || sig[64] == 28)

	h := NewOrderHasher(1)
	recovered, err := h.RecoverTrader(o, sig)
	require.NoError(t, err)
	require.Equal(t, signer.Address(), recovered)

	// Recovery also accepts the raw {0,1} recovery byte.
	raw := append([]byte(nil), sig...)
	raw[64] -= 27
	recovered, err = h.RecoverTrader(o, raw)
	require.NoError(t, err)
	require.Equal(t, signer.Address(), recovered)
}

func TestRecoverRejectsTampering(t *testing.T) {
	signer, err := NewSigner(testKeyHex, 1)
	require.NoError(t, err)

	o := testOrder([20]byte{})
	o.Trader = signer.Address()
	sig, err := signer.SignOrder(o)
	require.NoError(t, err)

	h := NewOrderHasher(1)

	// Changed content recovers some other address.
	tampered := o
	tampered.Price = 9999
	recovered, err := h.RecoverTrader(tampered, sig)
	require.NoError(t, err)
	require.NotEqual(t, signer.Address(), recovered)

	// A signature for chain 1 does not verify on chain 137.
	recovered, err = NewOrderHasher(137).RecoverTrader(o, sig)
	require.NoError(t, err)
	require.NotEqual(t, signer.Address(), recovered)

	_, err = h.RecoverTrader(o, sig[:64])
	require.ErrorIs(t, err, domain.ErrBadSignature)
}

func TestParsePrivateKey(t *testing.T) {
	for _, key := range []string{testKeyHex, testKeyHex[2:]} {
		pk, err := ParsePrivateKey(key)
		require.NoError(t, err)
		require.NotNil(t, pk)
	}

	_, err := ParsePrivateKey("not-a-key")
	require.Error(t, err)
}
