package credstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	plaintext := []byte(`Endpoint=sb://example.servicebus.windows.net/;SharedAccessKeyName=x;SharedAccessKey=y`)
	password := []byte("correct horse battery staple")

	enc, err := Encrypt(plaintext, password)
	require.NoError(t, err)

	got, err := Decrypt(enc, password)
	require.NoError(t, err)
	assert.Equal(t, plaintext, got.Bytes())
}

func TestEncryptIsNonDeterministicButDecryptsToSamePlaintext(t *testing.T) {
	plaintext := []byte("secret")
	password := []byte("pw")

	a, err := Encrypt(plaintext, password)
	require.NoError(t, err)
	b, err := Encrypt(plaintext, password)
	require.NoError(t, err)

	assert.NotEqual(t, a.Ciphertext, b.Ciphertext, "fresh nonce/salt per call")

	pa, err := Decrypt(a, password)
	require.NoError(t, err)
	pb, err := Decrypt(b, password)
	require.NoError(t, err)
	assert.Equal(t, pa.Bytes(), pb.Bytes())
}

func TestDecryptWrongPassword(t *testing.T) {
	enc, err := Encrypt([]byte("secret"), []byte("right"))
	require.NoError(t, err)

	_, err = Decrypt(enc, []byte("wrong"))
	assert.ErrorIs(t, err, ErrInvalidPassword)
}

func TestDecryptMalformed(t *testing.T) {
	_, err := Decrypt(Encrypted{Ciphertext: []byte("short"), Salt: make([]byte, saltSize)}, []byte("pw"))
	assert.ErrorIs(t, err, ErrMalformed)

	_, err = Decrypt(Encrypted{Ciphertext: make([]byte, 40), Salt: []byte("tooshort")}, []byte("pw"))
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestPlaintextZero(t *testing.T) {
	p := NewPlaintext([]byte("hunter2"))
	p.Zero()
	assert.Nil(t, p.Bytes())
}

func TestStoreAttemptCapAndUnlock(t *testing.T) {
	logger := zaptest.NewLogger(t)
	enc, err := Encrypt([]byte("payload"), []byte("pw"))
	require.NoError(t, err)

	s := New(logger, map[Kind]Encrypted{KindServiceBusConnectionString: enc})
	s.maxAttempts = 2

	assert.True(t, s.ContainsEncrypted())
	assert.True(t, s.NeedsPassword(KindServiceBusConnectionString))

	_, err = s.Unlock(KindServiceBusConnectionString, []byte("wrong"))
	assert.ErrorIs(t, err, ErrInvalidPassword)
	_, err = s.Unlock(KindServiceBusConnectionString, []byte("wrong"))
	assert.ErrorIs(t, err, ErrInvalidPassword)
	_, err = s.Unlock(KindServiceBusConnectionString, []byte("pw"))
	assert.ErrorIs(t, err, ErrAttemptsExhausted)
}

func TestStoreUnlockSuccessResetsAttempts(t *testing.T) {
	logger := zaptest.NewLogger(t)
	enc, err := Encrypt([]byte("payload"), []byte("pw"))
	require.NoError(t, err)

	s := New(logger, map[Kind]Encrypted{KindAzureADClientSecret: enc})
	_, err = s.Unlock(KindAzureADClientSecret, []byte("wrong"))
	require.ErrorIs(t, err, ErrInvalidPassword)
	assert.Equal(t, 1, s.attempts[KindAzureADClientSecret])

	got, err := s.Unlock(KindAzureADClientSecret, []byte("pw"))
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), got.Bytes())
	assert.Equal(t, 0, s.attempts[KindAzureADClientSecret])
	assert.False(t, s.NeedsPassword(KindAzureADClientSecret))

	cached, ok := s.Cached(KindAzureADClientSecret)
	require.True(t, ok)
	assert.Equal(t, []byte("payload"), cached.Bytes())
}

func TestStoreCloseZeroesCache(t *testing.T) {
	logger := zaptest.NewLogger(t)
	enc, err := Encrypt([]byte("payload"), []byte("pw"))
	require.NoError(t, err)

	s := New(logger, map[Kind]Encrypted{KindAzureADClientSecret: enc})
	plain, err := s.Unlock(KindAzureADClientSecret, []byte("pw"))
	require.NoError(t, err)
	s.Close()
	_, ok := s.Cached(KindAzureADClientSecret)
	assert.False(t, ok)
	_ = plain
}
