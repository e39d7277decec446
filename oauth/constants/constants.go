package constants

import "time"

const (
	DefaultAuthorizeURL = "https://thealgorithm.live/oauth/authorize"
	DefaultTokenURL     = "https://thealgorithm.live/oauth/token"
	DefaultRedirectURI  = "thealgorithm://oauth/callback"
	DefaultScope        = "read,write"

	// CallbackScheme is the app-specific scheme the embedded browser and the
	// OS-level open handler intercept.
	CallbackScheme = "thealgorithm"

	CodeChallengeMethod = "S256"

	// AttemptTimeout bounds a whole authorization attempt; after it fires the
	// attempt is failed and any late completion is ignored.
	AttemptTimeout = 60 * time.Second

	// ExchangeTimeout bounds the token-exchange POST.
	ExchangeTimeout = 30 * time.Second
)
