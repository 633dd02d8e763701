// cmd/vouchersign signs voucher batches offline for the SIGNER_ROLE holder.
//
// Each input row describes one voucher (see relay.ParseRows); the output is a
// "recipient, signature" listing or a JSON object keyed by recipient.
//
// Usage:
//
//	vouchersign authorize  --key <hex> --in whitelist.csv --format json
//	vouchersign redeemable --key <hex> --in ambassadors.csv
//	vouchersign bridge     --key <hex> --in transfers.csv --secure
//	vouchersign address    --key <hex>
package main

import (
	"crypto/ecdsa"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/spf13/cobra"

	"github.com/0gfoundation/0g-voucher-ledger/internal/relay"
)

type options struct {
	key    string
	in     string
	out    string
	format string
	secure bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "vouchersign",
		Short:         "Sign voucher batches with a SIGNER_ROLE key",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.key, "key", os.Getenv("SIGNER_KEY"), "signer private key (hex, with or without 0x; default $SIGNER_KEY)")
	root.PersistentFlags().StringVar(&opts.in, "in", "-", "input rows file, - for stdin")
	root.PersistentFlags().StringVar(&opts.out, "out", "-", "output file, - for stdout")
	root.PersistentFlags().StringVar(&opts.format, "format", "lines", "output format: lines | json")

	root.AddCommand(
		signCmd(opts, relay.KindAuthorize, "Sign whitelist vouchers (rows: recipient)"),
		signCmd(opts, relay.KindRedeemable, "Sign ambassador vouchers (rows: recipient,uri,ambassador)"),
		signCmd(opts, relay.KindVault, "Sign vault redeem vouchers (rows: recipient,tokenId)"),
		bridgeCmd(opts),
		addressCmd(opts),
	)
	return root
}

func signCmd(opts *options, kind, short string) *cobra.Command {
	return &cobra.Command{
		Use:   kind,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd, opts, kind)
		},
	}
}

func bridgeCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   relay.KindBridge,
		Short: "Sign bridge redemption vouchers (rows: recipient,chainId,contract,id,amount)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			kind := relay.KindBridge
			if opts.secure {
				kind = relay.KindSecureBridge
			}
			return run(cmd, opts, kind)
		},
	}
	cmd.Flags().BoolVar(&opts.secure, "secure", false, "bind the recipient into the voucher (secure redemption)")
	return cmd
}

func addressCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "address",
		Short: "Print the address of the signer key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			key, err := parseKey(opts.key)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), crypto.PubkeyToAddress(key.PublicKey).Hex())
			return err
		},
	}
}

func run(cmd *cobra.Command, opts *options, kind string) error {
	if opts.format != "lines" && opts.format != "json" {
		return fmt.Errorf("unknown --format %q", opts.format)
	}
	key, err := parseKey(opts.key)
	if err != nil {
		return err
	}

	var in io.Reader = cmd.InOrStdin()
	if opts.in != "-" {
		f, err := os.Open(opts.in)
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}
	vouchers, err := relay.ParseRows(kind, in)
	if err != nil {
		return fmt.Errorf("parse %s: %w", opts.in, err)
	}
	signed, err := relay.SignBatch(vouchers, key)
	if err != nil {
		return err
	}

	var out io.Writer = cmd.OutOrStdout()
	if opts.out != "-" {
		f, err := os.Create(opts.out)
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}
	if opts.format == "json" {
		return relay.WriteJSON(out, signed)
	}
	return relay.WriteLines(out, signed)
}

func parseKey(s string) (*ecdsa.PrivateKey, error) {
	if s == "" {
		return nil, fmt.Errorf("--key is required")
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse key: %w", err)
	}
	return key, nil
}
