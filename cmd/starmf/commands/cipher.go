package commands

import (
	"strings"

	"github.com/stashfi/starmf/internal/credentials"
	"github.com/stashfi/starmf/pkg/config"
)

// devCredentialKey is used in mock mode when no key is configured, so
// local setups work without generating one. Never valid in live mode;
// config validation requires a real key there.
var devCredentialKey = strings.Repeat("0badc0de", 8)

func newCredentialCipher(cfg *config.Config) (*credentials.Cipher, error) {
	key := cfg.BSE.CredentialKey
	if key == "" && cfg.BSE.MockMode {
		key = devCredentialKey
	}
	return credentials.NewCipher(key)
}
