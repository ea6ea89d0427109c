package auth

// Capability names a permission granted to a session. The host platform
// decides who gets what; this package only transports and checks them.
type Capability string

const (
	// CapManage is the host's highest administrative capability. Required
	// for api_key and sensitive contexts.
	CapManage Capability = "manage"
)

// Claims is the validated content of a session token. CSRF is the
// anti-forgery token minted with the session; state-changing requests must
// echo it in a header.
type Claims struct {
	Sub          string       `json:"sub"`
	Capabilities []Capability `json:"caps"`
	CSRF         string       `json:"csrf"`
	TokenID      string       `json:"jti"`
	IssuedAt     int64        `json:"iat"`
	ExpiresAt    int64        `json:"exp"`
}

func (c *Claims) Has(capability Capability) bool {
	for _, got := range c.Capabilities {
		if got == capability {
			return true
		}
	}
	return false
}
