package handlers

import (
	"github.com/go-chi/chi/v5"
	mW "github.com/ruralpay/tourwallet/internal/middleware"
)

// Mount registers the wallet API on r. Everything under /wallets requires a
// bearer token; provider callbacks authenticate with their HMAC signature.
func Mount(r chi.Router, wallets *WalletHandler, providers *ProviderHandler, auth *mW.Auth) {
	r.Post("/providers/{provider}/callbacks", providers.Callback)

	r.Group(func(r chi.Router) {
		r.Use(auth.AuthMiddleware)

		r.Route("/wallets/{account_id}", func(r chi.Router) {
			r.Use(mW.WalletAccess)

			r.Get("/balance", wallets.Balance)
			r.Get("/transactions/{transaction_id}", wallets.Transaction)
			r.With(mW.RequireRole(mW.RoleTourist, mW.RoleOperator)).Post("/top-up", wallets.TopUp)
			r.With(mW.RequireRole(mW.RoleTerminal, mW.RoleOperator)).Post("/spend", wallets.Spend)
			r.With(mW.RequireRole(mW.RoleTerminal)).Post("/offline-batch", wallets.OfflineBatch)
			r.With(mW.RequireRole(mW.RoleOperator)).Post("/held/{transaction_id}/resolve", wallets.ResolveHold)
		})
	})
}
