package crypto

import (
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptDecryptKey(t *testing.T) {
	key, err := ethcrypto.GenerateKey()
	require.NoError(t, err)

	blob, err := EncryptKey(key, "hunter2")
	require.NoError(t, err)
	assert.NotContains(t, string(blob), hex.EncodeToString(ethcrypto.FromECDSA(key)))

	back, err := DecryptKey(blob, "hunter2")
	require.NoError(t, err)
	assert.Equal(t, ethcrypto.FromECDSA(key), ethcrypto.FromECDSA(back))

	_, err = DecryptKey(blob, "wrong")
	assert.Error(t, err)

	_, err = EncryptKey(key, "")
	assert.Error(t, err)
}

func TestLoadKey(t *testing.T) {
	key, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	want := ethcrypto.PubkeyToAddress(key.PublicKey)

	t.Run("raw", func(t *testing.T) {
		got, err := LoadKey(KeyConfig{RawPrivateKey: "0x" + hex.EncodeToString(ethcrypto.FromECDSA(key))})
		require.NoError(t, err)
		assert.Equal(t, want, ethcrypto.PubkeyToAddress(got.PublicKey))
	})

	t.Run("encrypted file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "maker.json")
		require.NoError(t, WriteEncryptedKey(path, key, "pw"))

		info, err := os.Stat(path)
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

		got, err := LoadKey(KeyConfig{EncryptedKeyPath: path, KeyPassword: "pw"})
		require.NoError(t, err)
		assert.Equal(t, want, ethcrypto.PubkeyToAddress(got.PublicKey))
	})

	t.Run("bad raw", func(t *testing.T) {
		_, err := LoadKey(KeyConfig{RawPrivateKey: "zz"})
		assert.Error(t, err)
	})

	t.Run("no source", func(t *testing.T) {
		_, err := LoadKey(KeyConfig{})
		assert.Error(t, err)
	})
}
