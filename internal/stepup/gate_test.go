package stepup

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/congo-pay/wallet_engine/internal/logging"
	"github.com/congo-pay/wallet_engine/internal/validation"
)

// cheap parameters keep the suite fast; production uses DefaultParams
var testParams = Params{Memory: 1024, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}

func newTestGate() *Gate {
	return NewGate(NewMemoryRepository(), testParams, logging.Discard())
}

func TestSetPinAndVerify(t *testing.T) {
	g := newTestGate()
	ctx := context.Background()

	require.NoError(t, g.SetPin(ctx, "user-1", "4821"))
	assert.NoError(t, g.Verify(ctx, "user-1", "4821"))
	assert.ErrorIs(t, g.Verify(ctx, "user-1", "4822"), ErrIncorrectPin)
	assert.ErrorIs(t, g.Verify(ctx, "user-1", "48a1"), ErrIncorrectPin)
}

func TestVerifyWithoutPin(t *testing.T) {
	g := newTestGate()
	assert.ErrorIs(t, g.Verify(context.Background(), "nobody", "1234"), ErrPinNotSet)
}

func TestSetPinOnce(t *testing.T) {
	g := newTestGate()
	ctx := context.Background()

	require.NoError(t, g.SetPin(ctx, "user-1", "1111"))
	assert.ErrorIs(t, g.SetPin(ctx, "user-1", "2222"), ErrPinAlreadySet)
	// the original pin still verifies
	assert.NoError(t, g.Verify(ctx, "user-1", "1111"))
}

func TestSetPinRejectsMalformed(t *testing.T) {
	g := newTestGate()
	for _, pin := range []string{"123", "12345", "abcd", ""} {
		err := g.SetPin(context.Background(), "user-1", pin)
		assert.True(t, validation.IsValidation(err), "pin %q", pin)
	}
	assert.ErrorIs(t, g.Verify(context.Background(), "user-1", "1234"), ErrPinNotSet)
}

func TestHashFormatIsSaltedArgon2id(t *testing.T) {
	a, err := hashPIN("1234", DefaultParams)
	require.NoError(t, err)
	b, err := hashPIN("1234", DefaultParams)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(a, "$argon2id$v=19$m=65536,t=3,p=2$"))
	assert.NotEqual(t, a, b, "salts must differ")
	assert.NotContains(t, a, "1234")

	ok, err := comparePIN("1234", a)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestComparePINRejectsMalformedHash(t *testing.T) {
	for _, encoded := range []string{"", "plain", "$bcrypt$v=19$m=1,t=1,p=1$AA$AA", "$argon2id$v=19$m=x$AA$AA"} {
		_, err := comparePIN("1234", encoded)
		assert.ErrorIs(t, err, errMalformedHash, encoded)
	}
}
