package identity

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/congo-pay/wallet_engine/internal/auth"
	"github.com/congo-pay/wallet_engine/internal/ledger"
	"github.com/congo-pay/wallet_engine/internal/logging"
	"github.com/congo-pay/wallet_engine/internal/validation"
	"github.com/congo-pay/wallet_engine/internal/wallet"
)

func newService() (*Service, *auth.Issuer) {
	issuer := auth.NewIssuer("secret", time.Minute, "test")
	wallets := wallet.NewService(ledger.NewInMemory(), "NGN", logging.Discard())
	return NewService(NewMemoryRepository(), wallets, issuer, logging.Discard()), issuer
}

func TestRegisterProvisionsWalletAndToken(t *testing.T) {
	svc, issuer := newService()
	ctx := context.Background()

	reg, err := svc.Register(ctx, " Ada@Example.com ", "Ada Lovelace")
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", reg.User.Email)
	assert.Len(t, reg.Wallet.Number, 10)
	assert.Equal(t, reg.User.ID, reg.Wallet.OwnerID)

	claims, err := issuer.Parse(reg.Token.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, reg.User.ID, claims.Subject)

	email, err := svc.Email(ctx, reg.User.ID)
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", email)
}

func TestRegisterIsSignInForKnownEmail(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		regs []Registration
	)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			reg, err := svc.Register(ctx, "grace@example.com", "Grace")
			if err != nil {
				t.Errorf("register: %v", err)
				return
			}
			mu.Lock()
			regs = append(regs, reg)
			mu.Unlock()
		}()
	}
	wg.Wait()

	require.Len(t, regs, 5)
	for _, reg := range regs[1:] {
		assert.Equal(t, regs[0].User.ID, reg.User.ID)
		assert.Equal(t, regs[0].Wallet.ID, reg.Wallet.ID)
	}
}

func TestRegisterRejectsBadEmail(t *testing.T) {
	svc, _ := newService()
	_, err := svc.Register(context.Background(), "not-an-email", "")
	assert.True(t, validation.IsValidation(err))

	_, err = svc.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrUserNotFound)
}
