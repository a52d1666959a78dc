// Package security provides secure handling of WiFi network keys.
package security

import (
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/zalando/go-keyring"
)

const (
	// KeyringService is the service name used for keyring entries.
	KeyringService = "adbwifi"

	keyNetworkFmt = "wifi:%s"
	probeKey      = "__adbwifi_probe__"
)

// ErrKeyringUnavailable is returned when the OS keyring cannot be used.
var ErrKeyringUnavailable = errors.New("keyring not available")

// KeyringStore keeps network keys in the OS keyring (macOS Keychain, Linux
// Secret Service, Windows Credential Manager), one entry per SSID.
type KeyringStore struct {
	enabled bool
	mu      sync.RWMutex
	log     *slog.Logger
}

// NewKeyringStore probes the system keyring. If it is not usable the store
// is returned disabled.
func NewKeyringStore(log *slog.Logger) *KeyringStore {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	ks := &KeyringStore{enabled: true, log: log}

	if err := keyring.Set(KeyringService, probeKey, "probe"); err != nil {
		log.Debug("keyring not available", slog.String("error", err.Error()))
		ks.enabled = false
		return ks
	}
	_ = keyring.Delete(KeyringService, probeKey)

	log.Debug("keyring storage enabled")
	return ks
}

// IsEnabled returns true if the keyring is available and enabled.
func (ks *KeyringStore) IsEnabled() bool {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	return ks.enabled
}

// SetEnabled allows enabling/disabling keyring usage.
func (ks *KeyringStore) SetEnabled(enabled bool) {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	ks.enabled = enabled
}

func networkEntry(ssid string) (string, error) {
	if strings.TrimSpace(ssid) == "" {
		return "", errors.New("empty ssid")
	}
	return fmt.Sprintf(keyNetworkFmt, ssid), nil
}

// StoreNetworkKey saves the key of the network named ssid.
func (ks *KeyringStore) StoreNetworkKey(ssid string, key []byte) error {
	if !ks.IsEnabled() {
		return ErrKeyringUnavailable
	}
	entry, err := networkEntry(ssid)
	if err != nil {
		return err
	}

	encoded := base64.StdEncoding.EncodeToString(key)
	if err := keyring.Set(KeyringService, entry, encoded); err != nil {
		return fmt.Errorf("store network key: %w", err)
	}

	ks.log.Debug("stored network key in keyring", slog.String("ssid", ssid))
	return nil
}

// GetNetworkKey returns the stored key of ssid, or nil when there is none.
func (ks *KeyringStore) GetNetworkKey(ssid string) ([]byte, error) {
	if !ks.IsEnabled() {
		return nil, ErrKeyringUnavailable
	}
	entry, err := networkEntry(ssid)
	if err != nil {
		return nil, err
	}

	encoded, err := keyring.Get(KeyringService, entry)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get network key: %w", err)
	}

	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode network key: %w", err)
	}
	return key, nil
}

// DeleteNetworkKey removes the stored key of ssid. A missing entry is not an
// error.
func (ks *KeyringStore) DeleteNetworkKey(ssid string) error {
	if !ks.IsEnabled() {
		return ErrKeyringUnavailable
	}
	entry, err := networkEntry(ssid)
	if err != nil {
		return err
	}

	if err := keyring.Delete(KeyringService, entry); err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("delete network key: %w", err)
	}
	return nil
}
