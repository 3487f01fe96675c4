package funding

// DepositRequest starts a provider-hosted deposit.
type DepositRequest struct {
	Amount int64 `json:"amount"`
}

// DepositResponse points the client at the provider checkout.
type DepositResponse struct {
	Reference        string `json:"reference"`
	AuthorizationURL string `json:"authorization_url"`
}

// StatusResponse reports where a deposit stands.
type StatusResponse struct {
	Reference string `json:"reference"`
	Status    string `json:"status"`
	Amount    int64  `json:"amount"`
	Note      string `json:"note,omitempty"`
}

// WebhookResponse acknowledges a provider event.
type WebhookResponse struct {
	Status string `json:"status"`
}

// webhookPayload is the subset of a provider event the reconciler reads.
type webhookPayload struct {
	Event string `json:"event"`
	Data  struct {
		ID        int64  `json:"id"`
		Reference string `json:"reference"`
		Amount    int64  `json:"amount"`
		Currency  string `json:"currency"`
		Status    string `json:"status"`
	} `json:"data"`
}
