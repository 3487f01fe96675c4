package ledger

// SeedBalance is a test helper that sets the balance of a wallet held by the in-memory
// store. The version is bumped as a regular mutation would.
func SeedBalance(s Store, walletID string, amount int64) {
	if mem, ok := s.(*inMemoryStore); ok {
		mem.mu.Lock()
		defer mem.mu.Unlock()
		w, exists := mem.wallets[walletID]
		if !exists {
			return
		}
		w.Balance = amount
		w.Version++
		mem.wallets[walletID] = w
	}
}
