package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/quoterelay/quoterelay/internal/config"
	"github.com/quoterelay/quoterelay/internal/nostr"
	"github.com/quoterelay/quoterelay/internal/relay"
)

const appName = "quoterelay"

func main() {
	rootCmd := &cobra.Command{
		Use:     appName,
		Short:   "Nostr relay that answers signed BTC/USD price requests",
		Version: relay.Version,
		Long: `quoterelay is a specialized Nostr relay: clients submit signed
kind-38000 events asking for the current BTC/USD price, the relay
aggregates tickers from several public exchanges, and answers with a
signed kind-38001 response (or kind-38002 error) event.`,
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the relay until interrupted",
		RunE:  runServe,
	}
	bindServeFlags(serveCmd.PersistentFlags())

	keygenCmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate a relay keypair and print it as env assignments",
		RunE:  runKeygen,
	}

	rootCmd.AddCommand(serveCmd, keygenCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func bindServeFlags(flags *pflag.FlagSet) {
	flags.String("listen", "", "listen address (overrides LISTEN_ADDR)")
	flags.String("log-level", "", "log level (overrides LOG_LEVEL)")
	flags.String("config", "", "YAML config file (overrides QUOTERELAY_CONFIG)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	// Flags win over env by feeding the env path config.Load reads.
	if v, _ := cmd.Flags().GetString("config"); v != "" {
		os.Setenv("QUOTERELAY_CONFIG", v)
	}
	if v, _ := cmd.Flags().GetString("listen"); v != "" {
		os.Setenv("LISTEN_ADDR", v)
	}
	if v, _ := cmd.Flags().GetString("log-level"); v != "" {
		os.Setenv("LOG_LEVEL", v)
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	setupLogging(cfg.LogLevel)

	srv, err := relay.New(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return srv.Run(ctx)
}

func runKeygen(_ *cobra.Command, _ []string) error {
	signer, err := nostr.NewSigner()
	if err != nil {
		return err
	}
	fmt.Printf("RELAY_PRIVKEY_HEX=%s\n", signer.PrivateKeyHex())
	fmt.Printf("RELAY_PUBKEY_HEX=%s\n", signer.PublicKeyHex())
	return nil
}

func setupLogging(level string) {
	zerolog.TimeFieldFormat = time.RFC3339
	if lvl, err := zerolog.ParseLevel(level); err == nil && level != "" {
		zerolog.SetGlobalLevel(lvl)
	}
	// Pretty console output on a terminal, JSON otherwise.
	if term.IsTerminal(int(os.Stderr.Fd())) {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}
}
