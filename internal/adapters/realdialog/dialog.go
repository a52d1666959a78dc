// Package realdialog provides a terminal DialogProvider using charmbracelet/huh.
package realdialog

import (
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/huh"

	"github.com/acolita/adbwifi/internal/ports"
)

// Provider implements ports.DialogProvider with an inline huh form on the
// controlling terminal.
type Provider struct{}

// New returns a new TUI dialog provider.
func New() *Provider {
	return &Provider{}
}

// WiFiKey prompts for the network key with masked input.
func (p *Provider) WiFiKey(ssid string) (string, error) {
	var key string

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title(fmt.Sprintf("Security key for %q", ssid)).
				Description("Leave empty for an open network").
				EchoMode(huh.EchoModePassword).
				Value(&key),
		),
	)

	if err := form.Run(); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return "", fmt.Errorf("key prompt aborted")
		}
		return "", fmt.Errorf("key prompt: %w", err)
	}

	return strings.TrimRight(key, "\r\n"), nil
}

// Ensure Provider implements ports.DialogProvider.
var _ ports.DialogProvider = (*Provider)(nil)
