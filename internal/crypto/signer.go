// Package crypto provides key management, order-hash signing, and HMAC
// request authentication for the venue adapters.
package crypto

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// OrderPayload carries the fields of a perp-DEX order that are hashed and
// signed before submission. Size and LimitPrice are decimal strings so the
// encoded message matches the venue's canonical representation exactly.
type OrderPayload struct {
	Time       int64  // unix milliseconds
	Nonce      int64
	OrderType  string // "MARKET" or "LIMIT"
	Symbol     string // e.g. "BTC-PERP"
	IsBuy      bool
	Size       string // decimal string, e.g. "1.0000"
	LimitPrice string // decimal string, e.g. "50000.00"
	ReduceOnly bool
}

// orderArgs is the ABI tuple the venue hashes:
// (uint256, uint256, string, string, bool, string, string, bool).
var orderArgs abi.Arguments

func init() {
	uint256T, _ := abi.NewType("uint256", "", nil)
	stringT, _ := abi.NewType("string", "", nil)
	boolT, _ := abi.NewType("bool", "", nil)
	orderArgs = abi.Arguments{
		{Type: uint256T}, {Type: uint256T},
		{Type: stringT}, {Type: stringT},
		{Type: boolT},
		{Type: stringT}, {Type: stringT},
		{Type: boolT},
	}
}

// Signer signs order hashes with a secp256k1 key, producing the personal-sign
// style signatures the perp venue verifies on-chain.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// NewSigner creates a Signer from a hex-encoded secp256k1 private key.
func NewSigner(privateKeyHex string) (*Signer, error) {
	keyHex := strings.TrimPrefix(privateKeyHex, "0x")
	pk, err := ethcrypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: invalid private key: %w", err)
	}
	return &Signer{
		privateKey: pk,
		address:    ethcrypto.PubkeyToAddress(pk.PublicKey),
	}, nil
}

// Address returns the address derived from the signer's private key.
func (s *Signer) Address() common.Address {
	return s.address
}

// OrderHash returns keccak256 of the ABI-encoded order tuple.
func OrderHash(o OrderPayload) ([]byte, error) {
	packed, err := orderArgs.Pack(
		big.NewInt(o.Time),
		big.NewInt(o.Nonce),
		o.OrderType,
		o.Symbol,
		o.IsBuy,
		o.Size,
		o.LimitPrice,
		o.ReduceOnly,
	)
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: encode order: %w", err)
	}
	return ethcrypto.Keccak256(packed), nil
}

// SignOrder hashes the order, wraps the hash in the EIP-191 personal-message
// envelope, signs the digest, and returns a hex-encoded 65-byte signature
// (r || s || v, v in {27, 28}).
func (s *Signer) SignOrder(o OrderPayload) (string, error) {
	hash, err := OrderHash(o)
	if err != nil {
		return "", err
	}

	digest := personalDigest(hash)
	sig, err := ethcrypto.Sign(digest, s.privateKey)
	if err != nil {
		return "", fmt.Errorf("crypto/signer: signing: %w", err)
	}

	// go-ethereum returns v in {0,1}; the venue expects v in {27,28}.
	if sig[64] < 27 {
		sig[64] += 27
	}
	return "0x" + hex.EncodeToString(sig), nil
}

// personalDigest applies the "\x19Ethereum Signed Message:\n32" prefix over a
// 32-byte hash and rehashes, matching eth_sign / encode_defunct semantics.
func personalDigest(hash []byte) []byte {
	prefix := fmt.Sprintf("\x19Ethereum Signed Message:\n%d", len(hash))
	return ethcrypto.Keccak256(append([]byte(prefix), hash...))
}
