package oauth

import (
	"crypto/rand"
	"io"
	"math/big"
	"strings"

	"github.com/cronokirby/saferith"

	apperrors "broker_gateway/internal/errors"
	"broker_gateway/internal/util/memzero"
)

var (
	one   = big.NewInt(1)
	two   = big.NewInt(2)
	three = big.NewInt(3)
)

// DHChallenge is one handshake attempt's ephemeral key pair. The private exponent
// is wiped by CompleteExchange and a challenge can be completed only once.
type DHChallenge struct {
	// Public is A = g^x mod p, sent to the server as diffie_hellman_challenge.
	Public *big.Int

	params   *DHParams
	modulus  *saferith.Modulus
	exponent []byte
	consumed bool
}

// GenerateChallenge draws x uniformly from [2, p-2] and computes A = g^x mod p.
func GenerateChallenge(params *DHParams, random io.Reader) (*DHChallenge, error) {
	if err := params.Validate(); err != nil {
		return nil, apperrors.KeyExchange("invalid DH parameters")
	}
	if random == nil {
		random = rand.Reader
	}

	// rand.Int yields [0, p-3); shifting by two gives [2, p-2].
	span := new(big.Int).Sub(params.P, three)
	x, err := rand.Int(random, span)
	if err != nil {
		return nil, apperrors.KeyExchange("generating DH exponent")
	}
	x.Add(x, two)

	c, err := NewChallenge(params, x)
	x.SetInt64(0)
	return c, err
}

// NewChallenge builds a challenge from a caller-chosen exponent. Production code uses
// GenerateChallenge; fixed exponents exist for fixture tests.
func NewChallenge(params *DHParams, x *big.Int) (*DHChallenge, error) {
	if err := params.Validate(); err != nil {
		return nil, apperrors.KeyExchange("invalid DH parameters")
	}
	if !inExchangeRange(x, params.P) {
		return nil, apperrors.KeyExchange("DH exponent outside [2, p-2]")
	}

	modulus := saferith.ModulusFromBytes(params.P.Bytes())
	exponent := x.FillBytes(make([]byte, (params.P.BitLen()+7)/8))

	return &DHChallenge{
		Public:   modExp(params.G, exponent, modulus),
		params:   params,
		modulus:  modulus,
		exponent: exponent,
	}, nil
}

// PublicHex returns A as lowercase hex without leading zeros.
func (c *DHChallenge) PublicHex() string {
	return c.Public.Text(16)
}

// CompleteExchange computes serverPublic^x mod p and returns it in the broker's
// big-endian two's-complement encoding. The challenge is consumed whether or not
// the exchange succeeds.
func CompleteExchange(c *DHChallenge, serverPublic *big.Int) ([]byte, error) {
	if c == nil || c.consumed {
		return nil, apperrors.KeyExchange("DH challenge already consumed")
	}
	defer c.wipe()

	if !inExchangeRange(serverPublic, c.params.P) {
		return nil, apperrors.KeyExchange("server DH public value outside [2, p-2]")
	}

	shared := modExp(serverPublic, c.exponent, c.modulus)
	if shared.Cmp(one) <= 0 {
		return nil, apperrors.KeyExchange("degenerate DH shared secret")
	}
	return toByteArray(shared), nil
}

// ParseServerPublic decodes the server's hex-encoded DH public value.
func ParseServerPublic(s string) (*big.Int, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	v, ok := new(big.Int).SetString(s, 16)
	if !ok || s == "" {
		return nil, apperrors.KeyExchange("server DH public value is not hex")
	}
	return v, nil
}

func (c *DHChallenge) wipe() {
	memzero.Zero(c.exponent)
	c.consumed = true
}

// inExchangeRange reports 2 <= v <= p-2.
func inExchangeRange(v, p *big.Int) bool {
	if v == nil {
		return false
	}
	pMinus2 := new(big.Int).Sub(p, two)
	return v.Cmp(two) >= 0 && v.Cmp(pMinus2) <= 0
}

// modExp computes base^exp mod m in constant time with respect to exp.
func modExp(base *big.Int, exp []byte, m *saferith.Modulus) *big.Int {
	var b, e, out saferith.Nat
	b.SetBytes(base.Bytes())
	e.SetBytes(exp)
	out.Exp(&b, &e, m)
	return new(big.Int).SetBytes(out.Bytes())
}

// toByteArray encodes v the way java.math.BigInteger.toByteArray does for positive
// values: minimal big-endian bytes with a 0x00 sign byte when the top bit is set.
func toByteArray(v *big.Int) []byte {
	b := v.Bytes()
	if len(b) == 0 {
		return []byte{0}
	}
	if b[0]&0x80 != 0 {
		return append([]byte{0}, b...)
	}
	return b
}
