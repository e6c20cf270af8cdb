package cmd

import (
	"errors"

	"github.com/awnumar/memguard"
)

// sealedSecrets keeps the token secrets encrypted in memory between
// loading the configuration and building the engine.
type sealedSecrets struct {
	access  *memguard.Enclave
	refresh *memguard.Enclave
}

const devSecretBytes = 48

// sealSecrets moves the secrets out of cfg. Dev mode fills missing
// secrets with random bytes, so tokens do not survive a restart.
func sealSecrets(cfg *ServerConfig) (*sealedSecrets, bool, error) {
	generated := false
	seal := func(s string) *memguard.Enclave {
		if s == "" {
			generated = true
			return memguard.NewEnclaveRandom(devSecretBytes)
		}
		return memguard.NewEnclave([]byte(s))
	}
	if !cfg.Dev && (cfg.AccessTokenSecret == "" || cfg.RefreshTokenSecret == "") {
		return nil, false, errors.New("token secrets are required outside dev mode")
	}

	s := &sealedSecrets{
		access:  seal(cfg.AccessTokenSecret),
		refresh: seal(cfg.RefreshTokenSecret),
	}
	cfg.AccessTokenSecret = ""
	cfg.RefreshTokenSecret = ""
	return s, generated, nil
}

// open hands both secrets to use and destroys the plaintext afterwards.
func (s *sealedSecrets) open(use func(access, refresh []byte) error) error {
	access, err := s.access.Open()
	if err != nil {
		return err
	}
	defer access.Destroy()

	refresh, err := s.refresh.Open()
	if err != nil {
		return err
	}
	defer refresh.Destroy()

	return use(access.Bytes(), refresh.Bytes())
}
