package security

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"
)

// setupMockKeyring installs the go-keyring mock provider so tests never
// touch the real OS keyring.
func setupMockKeyring(t *testing.T) *KeyringStore {
	t.Helper()
	keyring.MockInit()
	return NewKeyringStore(nil)
}

// --- NewKeyringStore tests ---

func TestNewKeyringStore_WithMockKeyring(t *testing.T) {
	ks := setupMockKeyring(t)
	assert.True(t, ks.IsEnabled())
}

func TestNewKeyringStore_WithFailingKeyring(t *testing.T) {
	keyring.MockInitWithError(errors.New("mock keyring failure"))
	ks := NewKeyringStore(nil)
	assert.False(t, ks.IsEnabled())
}

func TestKeyringStore_SetEnabled(t *testing.T) {
	ks := setupMockKeyring(t)
	ks.SetEnabled(false)
	assert.False(t, ks.IsEnabled())
	ks.SetEnabled(true)
	assert.True(t, ks.IsEnabled())
}

// --- network key tests ---

func TestKeyringStore_StoreAndGetNetworkKey(t *testing.T) {
	ks := setupMockKeyring(t)

	require.NoError(t, ks.StoreNetworkKey("office", []byte("correct horse")))
	got, err := ks.GetNetworkKey("office")
	require.NoError(t, err)
	assert.Equal(t, "correct horse", string(got))
}

func TestKeyringStore_GetNetworkKey_NotFound(t *testing.T) {
	ks := setupMockKeyring(t)

	got, err := ks.GetNetworkKey("nowhere")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestKeyringStore_BinaryKey(t *testing.T) {
	ks := setupMockKeyring(t)
	key := []byte{0x00, 0xff, 0x10, '\n'}

	require.NoError(t, ks.StoreNetworkKey("bin", key))
	got, err := ks.GetNetworkKey("bin")
	require.NoError(t, err)
	assert.Equal(t, key, got)
}

func TestKeyringStore_NetworksAreIsolated(t *testing.T) {
	ks := setupMockKeyring(t)
	_ = ks.StoreNetworkKey("a", []byte("key-a"))
	_ = ks.StoreNetworkKey("b", []byte("key-b"))
	_ = ks.StoreNetworkKey("a", []byte("key-a2"))

	got, _ := ks.GetNetworkKey("a")
	assert.Equal(t, "key-a2", string(got))
	got, _ = ks.GetNetworkKey("b")
	assert.Equal(t, "key-b", string(got))
}

func TestKeyringStore_DeleteNetworkKey(t *testing.T) {
	ks := setupMockKeyring(t)
	_ = ks.StoreNetworkKey("office", []byte("pw"))

	require.NoError(t, ks.DeleteNetworkKey("office"))
	got, _ := ks.GetNetworkKey("office")
	assert.Nil(t, got)
	assert.NoError(t, ks.DeleteNetworkKey("office"), "missing entry")
}

func TestKeyringStore_InvalidBase64(t *testing.T) {
	ks := setupMockKeyring(t)
	require.NoError(t, keyring.Set(KeyringService, "wifi:broken", "!!not base64!!"))

	_, err := ks.GetNetworkKey("broken")
	assert.Error(t, err)
}

func TestKeyringStore_EmptySSID(t *testing.T) {
	ks := setupMockKeyring(t)
	assert.Error(t, ks.StoreNetworkKey(" ", []byte("x")))
	_, err := ks.GetNetworkKey("")
	assert.Error(t, err)
}

func TestKeyringStore_Disabled(t *testing.T) {
	ks := setupMockKeyring(t)
	ks.SetEnabled(false)

	assert.ErrorIs(t, ks.StoreNetworkKey("office", []byte("pw")), ErrKeyringUnavailable)
	_, err := ks.GetNetworkKey("office")
	assert.ErrorIs(t, err, ErrKeyringUnavailable)
	assert.ErrorIs(t, ks.DeleteNetworkKey("office"), ErrKeyringUnavailable)
}

func TestKeyringStore_KeyringError(t *testing.T) {
	ks := setupMockKeyring(t)
	keyring.MockInitWithError(errors.New("dbus down"))

	assert.Error(t, ks.StoreNetworkKey("office", []byte("pw")))
	_, err := ks.GetNetworkKey("office")
	assert.Error(t, err)
	assert.Error(t, ks.DeleteNetworkKey("office"))
}

// --- WipeBytes tests ---

func TestWipeBytes(t *testing.T) {
	data := []byte("sensitive-data-1234")
	WipeBytes(data)
	assert.Equal(t, make([]byte, len(data)), data)

	assert.NotPanics(t, func() {
		WipeBytes(nil)
		WipeBytes([]byte{})
	})
}
