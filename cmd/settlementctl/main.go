package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"tappay/config"
	"tappay/crypto"
	"tappay/journal"
	"tappay/services/settlementd"
)

const (
	journalCommand = "journal"
	keygenCommand  = "keygen"
	tokenCommand   = "token"
	defaultConfig  = "./settlementd.toml"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case journalCommand:
		err = runJournal(os.Args[2:])
	case keygenCommand:
		err = runKeygen(os.Args[2:])
	case tokenCommand:
		err = runToken(os.Args[2:])
	default:
		usage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type entryView struct {
	Seq       uint64          `json:"seq"`
	Type      string          `json:"type"`
	Account   string          `json:"account"`
	Timestamp string          `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

func runJournal(args []string) error {
	fs := flag.NewFlagSet(journalCommand, flag.ExitOnError)
	configPath := fs.String("config", defaultConfig, "Path to the settlementd config file")
	from := fs.Uint64("from", 0, "Print entries after this sequence number")
	filter := fs.String("type", "", "Only print entries of this type")
	fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if cfg.Journal.Backend == "memory" {
		return fmt.Errorf("journal backend %q is not persistent", cfg.Journal.Backend)
	}
	store, err := journal.Open(cfg.Journal.Backend, cfg.Journal.Path, cfg.Journal.DSN)
	if err != nil {
		return err
	}
	defer store.Close()

	enc := json.NewEncoder(os.Stdout)
	var encodeErr error
	err = store.Iterate(context.Background(), *from, func(entry journal.Entry) bool {
		if *filter != "" && entry.Type != *filter {
			return true
		}
		view := entryView{
			Seq:       entry.Seq,
			Type:      entry.Type,
			Account:   entry.Account,
			Timestamp: time.Unix(int64(entry.Timestamp), 0).UTC().Format(time.RFC3339),
			Payload:   json.RawMessage(entry.Payload),
		}
		if !json.Valid(entry.Payload) {
			view.Payload = nil
		}
		encodeErr = enc.Encode(view)
		return encodeErr == nil
	})
	if err != nil {
		return err
	}
	return encodeErr
}

func runKeygen(args []string) error {
	fs := flag.NewFlagSet(keygenCommand, flag.ExitOnError)
	showSecret := fs.Bool("secret", false, "Also print the private key")
	fs.Parse(args)

	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return err
	}
	addr := key.Address()
	fmt.Printf("Address: %s\n", addr.Hex())
	fmt.Printf("Bech32:  %s\n", crypto.FormatAddress(addr))
	if *showSecret {
		fmt.Printf("Private: %s\n", hex.EncodeToString(key.Bytes()))
	}
	return nil
}

func runToken(args []string) error {
	fs := flag.NewFlagSet(tokenCommand, flag.ExitOnError)
	configPath := fs.String("config", defaultConfig, "Path to the settlementd config file")
	subject := fs.String("subject", "", "Account the token authenticates as")
	scopes := fs.String("scopes", "", "Comma separated scopes, e.g. operator,rates:update")
	ttl := fs.Duration("ttl", time.Hour, "Token lifetime")
	fs.Parse(args)

	addr, err := crypto.ParseAddress(*subject)
	if err != nil {
		return fmt.Errorf("subject: %w", err)
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	secret, err := cfg.Auth.ResolveSecret()
	if err != nil {
		return err
	}
	var scopeList []string
	for _, scope := range strings.Split(*scopes, ",") {
		if scope = strings.TrimSpace(scope); scope != "" {
			scopeList = append(scopeList, scope)
		}
	}
	token, err := settlementd.IssueToken(secret, cfg.Auth.Issuer, cfg.Auth.Audience, addr.Hex(), scopeList, *ttl)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: %s <command> [options]\n\n", os.Args[0])
	fmt.Fprintln(os.Stderr, "Commands:")
	fmt.Fprintf(os.Stderr, "  %s\tPrint journal entries as JSON lines\n", journalCommand)
	fmt.Fprintf(os.Stderr, "  %s\tGenerate an account key\n", keygenCommand)
	fmt.Fprintf(os.Stderr, "  %s\tIssue an API token for an account\n", tokenCommand)
}
