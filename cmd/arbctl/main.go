// Command arbctl is the operator's client for a flasharb server. It manages
// the operator key and sends signed requests.
//
// Usage:
//
//	arbctl keygen   [-out key.json]
//	arbctl encrypt  -key <hex> -out key.json
//	arbctl quote    [-max-input N]
//	arbctl execute  [-max-input N]
//	arbctl configure [-source ID] [-destination ID] [-flash ID] [-reverse=true|false] [-min-profit0 N] [-min-profit1 N]
//	arbctl operator -next <address>
//	arbctl retrieve -asset <address> -amount N -to <address>
//	arbctl balances | config | settlements | attempts
//
// Signing keys come from -key, FLASHARB_OPERATOR_KEY, or -key-file with
// FLASHARB_KEY_PASSWORD.
package main

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/flasharb/internal/crypto"
)

const (
	envKey      = "FLASHARB_OPERATOR_KEY"
	envPassword = "FLASHARB_KEY_PASSWORD"
	envServer   = "FLASHARB_SERVER"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "arbctl: %v\n", err)
		os.Exit(1)
	}
}

// run dispatches one subcommand and writes its result to out.
func run(ctx context.Context, args []string, out io.Writer) error {
	if len(args) == 0 {
		return errors.New("missing command (keygen, encrypt, quote, execute, configure, operator, retrieve, balances, config, settlements, attempts)")
	}
	cmd, args := args[0], args[1:]

	switch cmd {
	case "keygen":
		return keygen(args, out)
	case "encrypt":
		return encrypt(args, out)
	}

	fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
	server := fs.String("server", envOr(envServer, "http://localhost:8000"), "flasharb server URL")
	key := fs.String("key", os.Getenv(envKey), "operator private key (hex)")
	keyFile := fs.String("key-file", "", "encrypted operator key file")

	var (
		maxInput    = fs.String("max-input", "", "solver search bound")
		source      = fs.String("source", "", "source venue")
		destination = fs.String("destination", "", "destination venue")
		flash       = fs.String("flash", "", "flash venue")
		reverse     = fs.String("reverse", "", "true or false")
		minProfit0  = fs.String("min-profit0", "", "minimum residual of asset0")
		minProfit1  = fs.String("min-profit1", "", "minimum residual of asset1")
		next        = fs.String("next", "", "new operator address")
		asset       = fs.String("asset", "", "asset address")
		amount      = fs.String("amount", "", "amount in base units")
		to          = fs.String("to", "", "destination address")
		limit       = fs.Int("limit", 0, "page size")
	)
	if err := fs.Parse(args); err != nil {
		return err
	}

	var signer *crypto.Signer
	if *key != "" || *keyFile != "" {
		s, err := crypto.LoadSigner(crypto.KeySource{Key: *key, KeyFile: *keyFile, Password: os.Getenv(envPassword)})
		if err != nil {
			return err
		}
		signer = s
	}
	c := newClient(*server, signer)

	signed := func() error {
		if signer == nil {
			return fmt.Errorf("%s needs an operator key (-key, -key-file or %s)", cmd, envKey)
		}
		return nil
	}

	var (
		body []byte
		err  error
	)
	switch cmd {
	case "quote":
		path := "/api/arbitrage/quote"
		if *maxInput != "" {
			path += "?max_input=" + url.QueryEscape(*maxInput)
		}
		body, err = c.do(ctx, http.MethodGet, path, nil)
	case "execute":
		if err = signed(); err == nil {
			body, err = c.do(ctx, http.MethodPost, "/api/arbitrage/execute", map[string]string{"max_input": *maxInput})
		}
	case "configure":
		if err = signed(); err != nil {
			break
		}
		req := map[string]any{}
		setIf(req, "source_venue", *source)
		setIf(req, "destination_venue", *destination)
		setIf(req, "flash_venue", *flash)
		setIf(req, "min_profit0", *minProfit0)
		setIf(req, "min_profit1", *minProfit1)
		switch *reverse {
		case "":
		case "true":
			req["reverse"] = true
		case "false":
			req["reverse"] = false
		default:
			return fmt.Errorf("-reverse must be true or false, got %q", *reverse)
		}
		if len(req) == 0 {
			return errors.New("configure: nothing to change")
		}
		body, err = c.do(ctx, http.MethodPut, "/api/config", req)
	case "operator":
		if err = signed(); err == nil {
			body, err = c.do(ctx, http.MethodPut, "/api/config/operator", map[string]string{"operator": *next})
		}
	case "retrieve":
		if err = signed(); err == nil {
			body, err = c.do(ctx, http.MethodPost, "/api/custody/retrieve", map[string]string{
				"asset":       *asset,
				"amount":      *amount,
				"destination": *to,
			})
		}
	case "balances":
		body, err = c.do(ctx, http.MethodGet, "/api/custody/balances", nil)
	case "config":
		body, err = c.do(ctx, http.MethodGet, "/api/config", nil)
	case "settlements", "attempts":
		path := "/api/" + cmd
		if *limit > 0 {
			path += fmt.Sprintf("?limit=%d", *limit)
		}
		body, err = c.do(ctx, http.MethodGet, path, nil)
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
	if err != nil {
		return err
	}
	return printJSON(out, body)
}

// keygen creates a new operator key, printing the address and either the
// raw key or, with -out, an encrypted key file.
func keygen(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("keygen", flag.ContinueOnError)
	path := fs.String("out", "", "write an encrypted key file instead of printing the key")
	if err := fs.Parse(args); err != nil {
		return err
	}
	pk, err := ethcrypto.GenerateKey()
	if err != nil {
		return fmt.Errorf("generate key: %w", err)
	}
	keyHex := hex.EncodeToString(ethcrypto.FromECDSA(pk))
	addr := ethcrypto.PubkeyToAddress(pk.PublicKey)

	if *path == "" {
		fmt.Fprintf(out, "address: %s\nkey:     0x%s\n", addr.Hex(), keyHex)
		return nil
	}
	if err := writeKeyFile(*path, keyHex); err != nil {
		return err
	}
	fmt.Fprintf(out, "address: %s\nkey file: %s\n", addr.Hex(), *path)
	return nil
}

func encrypt(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("encrypt", flag.ContinueOnError)
	key := fs.String("key", os.Getenv(envKey), "private key (hex)")
	path := fs.String("out", "", "key file to write")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *path == "" {
		return errors.New("encrypt: -out is required")
	}
	signer, err := crypto.NewSigner(*key)
	if err != nil {
		return err
	}
	if err := writeKeyFile(*path, *key); err != nil {
		return err
	}
	fmt.Fprintf(out, "address: %s\nkey file: %s\n", signer.Address().Hex(), *path)
	return nil
}

func writeKeyFile(path, keyHex string) error {
	password := os.Getenv(envPassword)
	if password == "" {
		return fmt.Errorf("%s must be set to encrypt the key", envPassword)
	}
	data, err := crypto.EncryptKey(keyHex, password)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write key file: %w", err)
	}
	return nil
}

func printJSON(out io.Writer, body []byte) error {
	var buf bytes.Buffer
	if err := json.Indent(&buf, body, "", "  "); err != nil {
		_, err = out.Write(body)
		return err
	}
	buf.WriteByte('\n')
	_, err := buf.WriteTo(out)
	return err
}

func setIf(m map[string]any, k, v string) {
	if v != "" {
		m[k] = v
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
