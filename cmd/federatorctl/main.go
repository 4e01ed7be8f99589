// Command federatorctl is a small operator CLI for inspecting and
// resetting consumer offsets held in the Offset Store Adapter.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/National-Digital-Twin/federator-go/internal/config"
	"github.com/National-Digital-Twin/federator-go/internal/offsetstore"
)

func usage() {
	fmt.Fprintln(os.Stderr, "usage: federatorctl -config=config.yaml <get|set> <client> <topic> [offset]")
}

func main() {
	configFile := flag.String("config", "config.yaml", "Configuration file path")
	flag.Parse()

	args := flag.Args()
	if len(args) < 3 {
		usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "federatorctl: loading config: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	store, err := offsetstore.New(ctx, offsetstore.Options{
		Host:       cfg.Redis.Host,
		Port:       cfg.Redis.Port,
		TLSEnabled: cfg.Redis.TLSEnabled,
		Username:   cfg.Redis.Username,
		Password:   cfg.Redis.Password,
		AESKeyHex:  cfg.Redis.AESKey,
		Prefix:     cfg.Redis.Prefix,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "federatorctl: connecting to offset store: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	command, client, topic := args[0], args[1], args[2]

	switch command {
	case "get":
		offset, err := store.GetOffset(ctx, client, topic)
		if err != nil {
			fmt.Fprintf(os.Stderr, "federatorctl: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("%s/%s offset=%d\n", client, topic, offset)

	case "set":
		if len(args) < 4 {
			usage()
			os.Exit(2)
		}
		var newOffset int64
		if _, err := fmt.Sscanf(args[3], "%d", &newOffset); err != nil {
			fmt.Fprintf(os.Stderr, "federatorctl: invalid offset %q\n", args[3])
			os.Exit(2)
		}
		if err := store.SetOffset(ctx, client, topic, newOffset); err != nil {
			fmt.Fprintf(os.Stderr, "federatorctl: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("%s/%s offset reset to %d\n", client, topic, newOffset)

	default:
		usage()
		os.Exit(2)
	}
}
