package auth

// Identity is a normalized external identity returned by a trusted
// identity provider. It carries facts only; ladder decisions are made by
// the caller.
type Identity struct {
	Provider       string // e.g. "platform"
	ProviderUserID string // provider-scoped durable account id (sub)
	Email          string
	EmailVerified  bool
}
