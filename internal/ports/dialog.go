package ports

// DialogProvider abstracts interactive user dialogs.
// Implementations may use TUI forms or test fakes.
type DialogProvider interface {
	// WiFiKey asks the user for the security key of the given network.
	WiFiKey(ssid string) (string, error)
}
