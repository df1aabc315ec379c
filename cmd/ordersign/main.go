// Command ordersign hashes and signs a native order with the configured
// wallet key. The order is read as JSON from a file (or stdin) and the result
// is printed as JSON.
//
//	ordersign -config config.toml -kind limit -order order.json
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math/big"
	"os"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/nativeorders/internal/config"
	"github.com/alanyoungcy/nativeorders/internal/crypto"
	"github.com/alanyoungcy/nativeorders/internal/domain"
)

type output struct {
	Signer    common.Address   `json:"signer"`
	OrderHash common.Hash      `json:"orderHash"`
	Signature domain.Signature `json:"signature"`
}

func main() {
	configPath := flag.String("config", "", "path to configuration file (optional)")
	kind := flag.String("kind", "limit", "order kind: limit or rfq")
	sigType := flag.String("type", "eip712", "signature type: eip712 or ethsign")
	orderPath := flag.String("order", "-", "order JSON file, - for stdin")
	encrypt := flag.String("encrypt-to", "", "write the loaded key to this path encrypted with wallet.key_password and exit")
	flag.Parse()

	if err := run(*configPath, *kind, *sigType, *orderPath, *encrypt); err != nil {
		fmt.Fprintf(os.Stderr, "ordersign: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, kind, sigType, orderPath, encryptTo string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	key, err := crypto.LoadKey(crypto.KeyConfig{
		RawPrivateKey:    cfg.Wallet.PrivateKey,
		EncryptedKeyPath: cfg.Wallet.EncryptedKeyPath,
		KeyPassword:      cfg.Wallet.KeyPassword,
	})
	if err != nil {
		return err
	}

	if encryptTo != "" {
		if cfg.Wallet.KeyPassword == "" {
			return fmt.Errorf("wallet.key_password is required to encrypt a key")
		}
		return crypto.WriteEncryptedKey(encryptTo, key, cfg.Wallet.KeyPassword)
	}

	var t domain.SignatureType
	switch sigType {
	case "eip712":
		t = domain.SignatureTypeEIP712
	case "ethsign":
		t = domain.SignatureTypeEthSign
	default:
		return fmt.Errorf("unknown signature type %q", sigType)
	}

	raw, err := readInput(orderPath)
	if err != nil {
		return err
	}

	var order domain.Order
	switch kind {
	case "limit":
		var o domain.LimitOrder
		if err := json.Unmarshal(raw, &o); err != nil {
			return fmt.Errorf("decode limit order: %w", err)
		}
		order = o
	case "rfq":
		var o domain.RfqOrder
		if err := json.Unmarshal(raw, &o); err != nil {
			return fmt.Errorf("decode rfq order: %w", err)
		}
		order = o
	default:
		return fmt.Errorf("unknown order kind %q", kind)
	}

	// An order that names its own chain or contract is signed for it.
	d := crypto.Domain{
		Name:              cfg.Domain.Name,
		Version:           cfg.Domain.Version,
		ChainID:           big.NewInt(cfg.Domain.ChainID),
		VerifyingContract: common.HexToAddress(cfg.Domain.VerifyingContract),
	}
	signer := crypto.NewOrderSigner(key, d.ForOrder(order))
	hash, sig, err := signer.SignOrder(order, t)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(output{Signer: signer.Address(), OrderHash: hash, Signature: sig})
}

func readInput(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}
