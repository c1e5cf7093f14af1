package main

import (
	"context"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dawidpereira/quetty/internal/errs"
	"github.com/dawidpereira/quetty/internal/model"
)

func TestEncodedSecretDecodeRoundTrips(t *testing.T) {
	ct := []byte("ciphertext-bytes")
	salt := []byte("salt-bytes")

	e := encodedSecret{
		Ciphertext: base64.StdEncoding.EncodeToString(ct),
		Salt:       base64.StdEncoding.EncodeToString(salt),
	}

	enc, err := e.decode()
	require.NoError(t, err)
	assert.Equal(t, ct, enc.Ciphertext)
	assert.Equal(t, salt, enc.Salt)
}

func TestEncodedSecretDecodeRejectsInvalidBase64(t *testing.T) {
	e := encodedSecret{Ciphertext: "not-base64!!!", Salt: base64.StdEncoding.EncodeToString([]byte("x"))}
	_, err := e.decode()
	assert.Error(t, err)
}

func TestLoadEncryptedCredentialsMissingProfileYieldsEmptyMap(t *testing.T) {
	saved := profileName
	profileName = "profile-that-does-not-exist-anywhere"
	defer func() { profileName = saved }()

	out := loadEncryptedCredentials(newTestConfig())
	assert.Empty(t, out)
}

func TestNoopManagementQueueStatsReportsWrongState(t *testing.T) {
	var mgmt noopManagement

	_, err := mgmt.QueueStats(context.Background(), model.QueueIdentity{Name: "orders"})
	assert.ErrorIs(t, err, errs.ErrWrongState)

	namespaces, err := mgmt.ListNamespaces(context.Background())
	assert.NoError(t, err)
	assert.Nil(t, namespaces)
}
