// Package fakedialog provides a test fake for ports.DialogProvider.
package fakedialog

import "github.com/acolita/adbwifi/internal/ports"

// Provider is a controllable fake DialogProvider for testing.
type Provider struct {
	// Key is returned by WiFiKey.
	Key string
	// Err is the error returned by WiFiKey.
	Err error
	// Called tracks whether WiFiKey was invoked.
	Called bool
	// ReceivedSSID captures the network name passed to WiFiKey.
	ReceivedSSID string
}

// New returns a new fake dialog provider.
func New() *Provider {
	return &Provider{}
}

// WiFiKey returns the pre-configured Key and Err.
func (p *Provider) WiFiKey(ssid string) (string, error) {
	p.Called = true
	p.ReceivedSSID = ssid
	if p.Err != nil {
		return "", p.Err
	}
	return p.Key, nil
}

// Ensure Provider implements ports.DialogProvider.
var _ ports.DialogProvider = (*Provider)(nil)
