package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/btcsuite/btcd/btcutil"
	flags "github.com/jessevdk/go-flags"
)

var (
	halwalletHomeDir  = btcutil.AppDataDir("halwallet", false)
	defaultWalletFile = filepath.Join(halwalletHomeDir, "wallet.db")
	defaultLogDir     = filepath.Join(halwalletHomeDir, "logs")
)

// config defines the configuration options for halwalletctl.
type config struct {
	ShowVersion  bool   `short:"V" long:"version" description:"Display version information and exit"`
	ListCommands bool   `short:"l" long:"listcommands" description:"List all of the supported commands and exit"`
	Wallet       string `short:"w" long:"wallet" description:"Path to the wallet database file"`
	LogDir       string `long:"logdir" description:"Directory to log output"`
	DebugLevel   string `short:"d" long:"debuglevel" description:"Logging level {trace, debug, info, warn, error, critical}"`
}

// loadConfig initializes and parses the config using command line options.
func loadConfig() (*config, []string, error) {
	cfg := config{
		Wallet:     defaultWalletFile,
		LogDir:     defaultLogDir,
		DebugLevel: "info",
	}

	parser := flags.NewParser(&cfg, flags.HelpFlag|flags.PassDoubleDash)
	remainingArgs, err := parser.Parse()
	if err != nil {
		if e, ok := err.(*flags.Error); ok && e.Type == flags.ErrHelp {
			fmt.Fprintln(os.Stdout, err)
			os.Exit(0)
		}
		return nil, nil, err
	}

	if cfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, version)
		os.Exit(0)
	}
	if cfg.ListCommands {
		listCommands()
		os.Exit(0)
	}

	return &cfg, remainingArgs, nil
}
