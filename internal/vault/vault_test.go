package vault

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/qa-harvester/internal/harvest"
)

func TestVault_RoundTrip(t *testing.T) {
	t.Parallel()

	v, err := New("test-secret")
	require.NoError(t, err)

	inputs := []string{"", "a", "someone@example.com", "p@ss w0rd ✓", strings.Repeat("x", 4096)}
	for _, in := range inputs {
		ct, err := v.Encrypt(in)
		require.NoError(t, err)
		out, err := v.Decrypt(ct)
		require.NoError(t, err)
		require.Equal(t, in, out)
	}
}

func TestVault_FreshNoncePerEncryption(t *testing.T) {
	t.Parallel()

	v, err := New("test-secret")
	require.NoError(t, err)

	first, err := v.Encrypt("same value")
	require.NoError(t, err)
	second, err := v.Encrypt("same value")
	require.NoError(t, err)
	require.NotEqual(t, first, second)
}

func TestVault_DecryptRejectsBadInput(t *testing.T) {
	t.Parallel()

	v, err := New("test-secret")
	require.NoError(t, err)
	other, err := New("another-secret")
	require.NoError(t, err)

	ct, err := v.Encrypt("hunter2")
	require.NoError(t, err)
	foreign, err := other.Encrypt("hunter2")
	require.NoError(t, err)

	raw, err := encoding.DecodeString(ct)
	require.NoError(t, err)
	raw[len(raw)-1] ^= 0xff
	tampered := encoding.EncodeToString(raw)

	for name, input := range map[string]string{
		"not base64": "%%%",
		"too short":  encoding.EncodeToString([]byte("short")),
		"tampered":   tampered,
		"foreign":    foreign,
	} {
		_, err := v.Decrypt(input)
		require.ErrorIs(t, err, harvest.ErrCrypto, name)
	}
}

func TestNew_RequiresSecret(t *testing.T) {
	t.Parallel()

	_, err := New("")
	require.Error(t, err)
}

func TestPairHelpers(t *testing.T) {
	t.Parallel()

	v, err := New("test-secret")
	require.NoError(t, err)

	email, secret, err := EncryptPair(v, harvest.Credentials{Email: "me@example.com", Secret: "pw"})
	require.NoError(t, err)
	require.NotContains(t, email, "me@example.com")

	creds, err := DecryptPair(v, harvest.User{EncryptedEmail: email, EncryptedSecret: secret})
	require.NoError(t, err)
	require.Equal(t, harvest.Credentials{Email: "me@example.com", Secret: "pw"}, creds)

	_, _, err = EncryptPair(v, harvest.Credentials{Email: "me@example.com"})
	require.ErrorIs(t, err, harvest.ErrValidation)

	email, secret, err = EncryptPair(v, harvest.Credentials{})
	require.NoError(t, err)
	require.Empty(t, email)
	require.Empty(t, secret)

	creds, err = DecryptPair(v, harvest.User{})
	require.NoError(t, err)
	require.True(t, creds.Empty())

	_, err = DecryptPair(v, harvest.User{EncryptedEmail: email + "x"})
	require.ErrorIs(t, err, harvest.ErrCrypto)
}
