package main

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/ruteri/content-key-service/api/clients"
	"github.com/ruteri/content-key-service/cmd/flags"
	"github.com/ruteri/content-key-service/cryptoutils"
	"github.com/ruteri/content-key-service/interfaces"
	"github.com/ruteri/content-key-service/kms"
	"github.com/urfave/cli/v2"
)

var flagServer = &cli.StringFlag{
	Name:    "server",
	Value:   "http://127.0.0.1:8080",
	Usage:   "key server address",
	EnvVars: []string{flags.EnvPrefix + "SERVER"},
}

var flagKEK = &cli.StringFlag{
	Name:    "kek",
	Usage:   "key encryption key, 32 hex characters",
	EnvVars: []string{flags.EnvPrefix + "KEK"},
}

var flagPassphrase = &cli.StringFlag{
	Name:    "kek-passphrase",
	Usage:   "derive the KEK from this passphrase instead of passing --kek",
	EnvVars: []string{flags.EnvPrefix + "KEK_PASSPHRASE"},
}

var flagSalt = &cli.StringFlag{
	Name:    "kek-salt",
	Usage:   "salt for --kek-passphrase, at least 8 characters",
	EnvVars: []string{flags.EnvPrefix + "KEK_SALT"},
}

var (
	flagShares    = &cli.IntFlag{Name: "shares", Value: 5, Usage: "number of shares to produce"}
	flagThreshold = &cli.IntFlag{Name: "threshold", Value: 3, Usage: "shares needed to recover the KEK"}
)

var (
	flagKID       = &cli.StringFlag{Name: "kid", Usage: "KID or ^alias"}
	flagK         = &cli.StringFlag{Name: "k", Usage: "plaintext key, hex"}
	flagEK        = &cli.StringFlag{Name: "ek", Usage: "wrapped key, hex"}
	flagKekID     = &cli.StringFlag{Name: "kek-id", Usage: "KEK identifier to record"}
	flagInfo      = &cli.StringFlag{Name: "info", Usage: "free form description"}
	flagContentID = &cli.StringFlag{Name: "content-id", Usage: "identifier of the protected content"}
	flagExpires   = &cli.StringFlag{Name: "expiration", Usage: "expiration date or epoch milliseconds"}
)

var keyFieldFlags = []cli.Flag{flagK, flagEK, flagKekID, flagInfo, flagContentID}

func main() {
	app := &cli.App{
		Name:  "keyclient",
		Usage: "Manage keys on a content key server",
		Flags: []cli.Flag{flagServer, flagKEK, flagPassphrase, flagSalt},
		Commands: []*cli.Command{
			{
				Name:  "create",
				Usage: "create a key; missing kid and k are generated",
				Flags: append([]cli.Flag{flagKID, flagExpires}, keyFieldFlags...),
				Action: func(cCtx *cli.Context) error {
					kek, err := parseKEK(cCtx)
					if err != nil {
						return err
					}
					fields := keyFields(cCtx)
					fields.KID = cCtx.String(flagKID.Name)
					fields.Expiration = cCtx.String(flagExpires.Name)

					record, created, err := client(cCtx).CreateKey(cCtx.Context, fields, kek)
					if err != nil {
						return err
					}
					if !created {
						fmt.Fprintln(os.Stderr, "key already existed")
					}
					return printJSON(record)
				},
			},
			{
				Name:      "get",
				Usage:     "show one or more keys",
				ArgsUsage: "KID[,KID...]",
				Action: func(cCtx *cli.Context) error {
					kek, err := parseKEK(cCtx)
					if err != nil {
						return err
					}
					records, err := client(cCtx).GetKeys(cCtx.Context, kidsArg(cCtx), kek)
					if err != nil {
						return err
					}
					return printJSON(records)
				},
			},
			{
				Name:      "value",
				Usage:     "print key values, comma separated",
				ArgsUsage: "KID[,KID...]",
				Action: func(cCtx *cli.Context) error {
					kek, err := parseKEK(cCtx)
					if err != nil {
						return err
					}
					values, err := client(cCtx).GetKeyValues(cCtx.Context, kidsArg(cCtx), kek)
					if err != nil {
						return err
					}
					fmt.Println(values)
					return nil
				},
			},
			{
				Name:  "list",
				Usage: "list every key",
				Action: func(cCtx *cli.Context) error {
					kek, err := parseKEK(cCtx)
					if err != nil {
						return err
					}
					records, err := client(cCtx).ListKeys(cCtx.Context, kek)
					if err != nil {
						return err
					}
					return printJSON(records)
				},
			},
			{
				Name:      "put",
				Usage:     "update a key",
				ArgsUsage: "KID",
				Flags:     keyFieldFlags,
				Action: func(cCtx *cli.Context) error {
					kek, err := parseKEK(cCtx)
					if err != nil {
						return err
					}
					if cCtx.NArg() != 1 {
						return fmt.Errorf("expected exactly one KID")
					}
					record, err := client(cCtx).UpdateKey(cCtx.Context, cCtx.Args().First(), keyFields(cCtx), kek)
					if err != nil {
						return err
					}
					return printJSON(record)
				},
			},
			{
				Name:      "delete",
				Usage:     "delete keys",
				ArgsUsage: "KID[,KID...]",
				Action: func(cCtx *cli.Context) error {
					return client(cCtx).DeleteKeys(cCtx.Context, kidsArg(cCtx))
				},
			},
			{
				Name:  "kek",
				Usage: "generate, derive, split and recover KEKs locally",
				Subcommands: []*cli.Command{
					{
						Name:  "generate",
						Usage: "print a random KEK, optionally as Shamir shares",
						Flags: []cli.Flag{flagShares, flagThreshold},
						Action: func(cCtx *cli.Context) error {
							kek, err := kms.GenerateKEK(nil)
							if err != nil {
								return err
							}
							fmt.Printf("kek:   %x\nkekId: %s\n", kek, cryptoutils.KEKFingerprint(kek))
							if !cCtx.IsSet(flagShares.Name) {
								return nil
							}
							return printShares(kek, cCtx.Int(flagShares.Name), cCtx.Int(flagThreshold.Name))
						},
					},
					{
						Name:  "split",
						Usage: "split the KEK given by --kek or --kek-passphrase into shares",
						Flags: []cli.Flag{flagShares, flagThreshold},
						Action: func(cCtx *cli.Context) error {
							kek, err := parseKEK(cCtx)
							if err != nil {
								return err
							}
							if kek == nil {
								return fmt.Errorf("no KEK given")
							}
							return printShares(kek, cCtx.Int(flagShares.Name), cCtx.Int(flagThreshold.Name))
						},
					},
					{
						Name:      "combine",
						Usage:     "recover a KEK from hex shares",
						ArgsUsage: "SHARE SHARE...",
						Action: func(cCtx *cli.Context) error {
							shares := make([][]byte, 0, cCtx.NArg())
							for _, arg := range cCtx.Args().Slice() {
								share, err := hex.DecodeString(arg)
								if err != nil {
									return fmt.Errorf("invalid share %q: %w", arg, err)
								}
								shares = append(shares, share)
							}
							kek, fingerprint, err := kms.CombineKEK(shares)
							if err != nil {
								return err
							}
							fmt.Printf("kek:   %x\nkekId: %s\n", kek, fingerprint)
							return nil
						},
					},
				},
			},
			{
				Name:  "count",
				Usage: "print the number of stored keys",
				Action: func(cCtx *cli.Context) error {
					n, err := client(cCtx).KeyCount(cCtx.Context)
					if err != nil {
						return err
					}
					fmt.Println(n)
					return nil
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func client(cCtx *cli.Context) *clients.KeysClient {
	return clients.NewKeysClient(cCtx.String(flagServer.Name))
}

func parseKEK(cCtx *cli.Context) ([]byte, error) {
	if passphrase := cCtx.String(flagPassphrase.Name); passphrase != "" {
		if cCtx.IsSet(flagKEK.Name) {
			return nil, fmt.Errorf("--kek and --kek-passphrase are mutually exclusive")
		}
		return kms.DeriveKEK([]byte(passphrase), []byte(cCtx.String(flagSalt.Name)))
	}

	param := cCtx.String(flagKEK.Name)
	if !interfaces.ValidKEKParam(param) {
		return nil, fmt.Errorf("--kek must be 32 hex characters")
	}
	if param == "" {
		return nil, nil
	}
	return hex.DecodeString(param)
}

func printShares(kek []byte, parts, threshold int) error {
	shares, err := kms.SplitKEK(kek, parts, threshold)
	if err != nil {
		return err
	}
	fmt.Printf("%d of %d shares recover the KEK:\n", threshold, parts)
	for i, share := range shares {
		fmt.Printf("share %d: %x\n", i+1, share)
	}
	return nil
}

func kidsArg(cCtx *cli.Context) []string {
	var kids []string
	for _, arg := range cCtx.Args().Slice() {
		kids = append(kids, strings.Split(arg, ",")...)
	}
	return kids
}

// keyFields collects the key flags that were actually set, so that an
// update only touches what the user named.
func keyFields(cCtx *cli.Context) interfaces.KeyFields {
	optional := func(f *cli.StringFlag) *string {
		if !cCtx.IsSet(f.Name) {
			return nil
		}
		v := cCtx.String(f.Name)
		return &v
	}
	return interfaces.KeyFields{
		K:         cCtx.String(flagK.Name),
		EK:        cCtx.String(flagEK.Name),
		KekID:     optional(flagKekID),
		Info:      optional(flagInfo),
		ContentID: optional(flagContentID),
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
