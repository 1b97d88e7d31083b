package wallet

import (
	"crypto/ecdsa"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/tyler-smith/go-bip39"

	"github.com/Fantasim/minerstake/internal/config"
)

// BIP-44 path components for EVM accounts: m/44'/60'/0'/0/N.
const (
	bip44Purpose = 44
	evmCoinType  = 60
)

// ValidateMnemonic validates a BIP-39 mnemonic phrase.
func ValidateMnemonic(mnemonic string) error {
	if !bip39.IsMnemonicValid(mnemonic) {
		return fmt.Errorf("validate mnemonic: %w", config.ErrInvalidMnemonic)
	}
	slog.Debug("mnemonic validated", "wordCount", len(strings.Fields(mnemonic)))
	return nil
}

// MnemonicToSeed converts a BIP-39 mnemonic to a 64-byte seed (empty passphrase).
func MnemonicToSeed(mnemonic string) ([]byte, error) {
	seed, err := bip39.NewSeedWithErrorChecking(mnemonic, "")
	if err != nil {
		return nil, fmt.Errorf("mnemonic to seed: %w", err)
	}
	return seed, nil
}

// ReadMnemonicFromFile reads a mnemonic from a file, trims whitespace, and validates it.
func ReadMnemonicFromFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read mnemonic file %q: %w", path, err)
	}

	mnemonic := strings.TrimSpace(string(data))
	if mnemonic == "" {
		return "", fmt.Errorf("mnemonic file %q is empty: %w", path, config.ErrInvalidMnemonic)
	}
	if err := ValidateMnemonic(mnemonic); err != nil {
		return "", fmt.Errorf("mnemonic file %q: %w", path, err)
	}

	slog.Info("mnemonic read and validated from file")
	return mnemonic, nil
}

// DeriveAccountKey derives the EVM private key at m/44'/60'/0'/0/index.
func DeriveAccountKey(seed []byte, index uint32) (*ecdsa.PrivateKey, error) {
	master, err := hdkeychain.NewMaster(seed, &chaincfg.MainNetParams)
	if err != nil {
		return nil, fmt.Errorf("%w: master key: %s", config.ErrKeyDerivation, err)
	}

	path := []uint32{
		hdkeychain.HardenedKeyStart + bip44Purpose,
		hdkeychain.HardenedKeyStart + evmCoinType,
		hdkeychain.HardenedKeyStart + 0,
		0,
		index,
	}

	key := master
	for depth, child := range path {
		key, err = key.Derive(child)
		if err != nil {
			return nil, fmt.Errorf("%w: depth %d: %s", config.ErrKeyDerivation, depth+1, err)
		}
	}

	priv, err := key.ECPrivKey()
	if err != nil {
		return nil, fmt.Errorf("%w: private key at index %d: %s", config.ErrKeyDerivation, index, err)
	}

	ecdsaKey := priv.ToECDSA()
	slog.Debug("account key derived",
		"index", index,
		"address", crypto.PubkeyToAddress(ecdsaKey.PublicKey).Hex(),
	)
	return ecdsaKey, nil
}

// ReadKeyFile reads a hex-encoded secp256k1 private key (0x prefix optional).
func ReadKeyFile(path string) (*ecdsa.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read key file %q: %w", path, err)
	}

	hexKey := strings.TrimPrefix(strings.TrimSpace(string(data)), "0x")
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("%w: key file %q: %s", config.ErrKeyDerivation, path, err)
	}
	return key, nil
}

// LoadSigningKey resolves the configured key source. The key file wins over the
// mnemonic file; with neither configured it returns nil and the session is read-only.
func LoadSigningKey(cfg *config.Config) (*ecdsa.PrivateKey, error) {
	switch {
	case cfg.KeyFile != "":
		slog.Info("loading signing key", "source", "keyFile")
		return ReadKeyFile(cfg.KeyFile)

	case cfg.MnemonicFile != "":
		slog.Info("loading signing key", "source", "mnemonic", "accountIndex", cfg.AccountIndex)
		mnemonic, err := ReadMnemonicFromFile(cfg.MnemonicFile)
		if err != nil {
			return nil, err
		}
		seed, err := MnemonicToSeed(mnemonic)
		if err != nil {
			return nil, err
		}
		return DeriveAccountKey(seed, cfg.AccountIndex)
	}

	slog.Info("no signing key configured, session will be read-only")
	return nil, nil
}
