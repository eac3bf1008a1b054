package secrets

import (
	"errors"
	"strings"

	"github.com/zalando/go-keyring"
)

const (
	// Service name grouping this app's secrets in the OS keychain.
	KeyringService = "offerscope"

	modelKeyAccount = "gemini-api-key"
)

// ResolveModelAPIKey returns the model API key: the value from the
// environment wins; an empty value falls back to the OS keychain. A missing
// key in both places is a fatal startup condition for the caller.
func ResolveModelAPIKey(fromEnv string) (string, error) {
	if strings.TrimSpace(fromEnv) != "" {
		return fromEnv, nil
	}
	key, err := keyring.Get(KeyringService, modelKeyAccount)
	if err == nil && strings.TrimSpace(key) != "" {
		return key, nil
	}
	return "", errors.New("model API key not found (set GEMINI_API_KEY or store it in the keychain)")
}

// SetModelAPIKey stores the key in the OS keychain for local development.
func SetModelAPIKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return errors.New("api key is empty")
	}
	return keyring.Set(KeyringService, modelKeyAccount, key)
}

func DeleteModelAPIKey() error {
	return keyring.Delete(KeyringService, modelKeyAccount)
}
