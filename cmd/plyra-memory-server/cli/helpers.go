package cli

import (
	"github.com/plyraAI/plyra-memory-server/internal/config"
	"github.com/plyraAI/plyra-memory-server/internal/keystore"
)

// openKeyStore opens the key store named by the current configuration, the
// same one the server uses.
func openKeyStore() (keystore.KeyStore, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	return keystore.Open(cfg.KeyStorePath(), cfg.RateLimitRPM)
}
