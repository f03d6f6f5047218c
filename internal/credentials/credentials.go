package credentials

import "errors"

// ErrNotConfigured indicates that no gateway credentials exist for the
// advisor. Orders for such advisors cannot be submitted and must fail
// without contacting the gateway.
var ErrNotConfigured = errors.New("exchange credentials not configured for advisor")

// Credentials holds an advisor's gateway identity. Password and PassKey
// are stored encrypted at rest and decrypted on read; neither must ever
// appear in logs.
type Credentials struct {
	AdvisorID string
	MemberID  string
	UserID    string
	EUIN      string
	Password  string
	PassKey   string
}

// HasEUIN reports whether the advisor registered an EUIN. Orders placed
// without one carry the declaration flag instead.
func (c Credentials) HasEUIN() bool {
	return c.EUIN != ""
}
