// Command verify prints the accounts derived from a mnemonic file so the
// configured MINERSTAKE_ACCOUNT_INDEX can be checked against a wallet.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/Fantasim/minerstake/internal/wallet"
)

func main() {
	mnemonicFile := flag.String("mnemonic-file", "", "Path to file containing a BIP-39 mnemonic (required)")
	count := flag.Int("count", 3, "Number of account indexes to derive")
	flag.Parse()

	if *mnemonicFile == "" || *count < 1 {
		flag.Usage()
		os.Exit(1)
	}

	mnemonic, err := wallet.ReadMnemonicFromFile(*mnemonicFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read mnemonic: %v\n", err)
		os.Exit(1)
	}
	seed, err := wallet.MnemonicToSeed(mnemonic)
	if err != nil {
		fmt.Fprintf(os.Stderr, "derive seed: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("=== m/44'/60'/0'/0/i ===")
	for i := range *count {
		key, err := wallet.DeriveAccountKey(seed, uint32(i))
		if err != nil {
			fmt.Fprintf(os.Stderr, "index %d: %v\n", i, err)
			os.Exit(1)
		}
		fmt.Printf("  index %d: %s\n", i, crypto.PubkeyToAddress(key.PublicKey).Hex())
	}
}
