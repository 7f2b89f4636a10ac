package main

import (
	"bufio"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/halcyonsuite/halwallet/acctmgr"
	"github.com/halcyonsuite/halwallet/internal/prompt"
	"github.com/halcyonsuite/halwallet/internal/zero"
	"github.com/halcyonsuite/halwallet/snacl"
	"github.com/halcyonsuite/halwallet/walletdb"
	_ "github.com/halcyonsuite/halwallet/walletdb/bdb"
)

const (
	appName = "halwalletctl"
	version = "0.1.0"

	showHelpMessage = "Specify -h to show available options"
	listCmdMessage  = "Specify -l to list available commands"
)

var (
	// accountsBucket is the namespace holding every account engine record.
	accountsBucket = []byte("accounts")

	// walletBucket holds the tool's own bookkeeping: the secret store
	// parameters and the default account's header key.
	walletBucket = []byte("wallet")

	masterKeyParamsName = []byte("masterkeyparams")
	accountKeyName      = []byte("accountkey")
)

// commandHandler performs one wallet operation and returns its printable
// result.
type commandHandler func(cfg *config, params []string) (string, error)

var commandHandlers = map[string]commandHandler{
	"create":        handleCreate,
	"newaddress":    handleNewAddress,
	"changeaddress": handleChangeAddress,
	"peekchange":    handlePeekChange,
	"dump":          handleDump,
	"dumpprivkey":   handleDumpPrivKey,
	"exportpub":     handleExportPub,
	"importpub":     handleImportPub,
}

// listCommands prints the supported commands one per line, sorted.
func listCommands() {
	methods := make([]string, 0, len(commandHandlers))
	for method := range commandHandlers {
		methods = append(methods, method)
	}
	sort.Strings(methods)
	for _, method := range methods {
		fmt.Println(method)
	}
}

// usage displays the general usage when an invalid command was specified.
func usage(errorMessage string) {
	fmt.Fprintln(os.Stderr, errorMessage)
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintf(os.Stderr, "  %s [OPTIONS] <command> <args...>\n\n",
		appName)
	fmt.Fprintln(os.Stderr, showHelpMessage)
	fmt.Fprintln(os.Stderr, listCmdMessage)
}

// parseAddressType maps a command line argument to a presentation type.  An
// empty argument selects the account default.
func parseAddressType(arg string) (acctmgr.AddressType, error) {
	switch strings.ToLower(arg) {
	case "":
		return acctmgr.AddressTypeDefault, nil
	case "p2pkh":
		return acctmgr.AddressTypeP2PKH, nil
	case "p2sh-p2wpkh":
		return acctmgr.AddressTypeNestedP2WPKH, nil
	case "p2wpkh":
		return acctmgr.AddressTypeP2WPKH, nil
	}
	return acctmgr.AddressTypeDefault, fmt.Errorf("unknown address type %q",
		arg)
}

// openWallet opens an existing wallet database and rebuilds the default
// account and its locked secret store from it.
func openWallet(cfg *config) (walletdb.DB, *acctmgr.Account, *acctmgr.SecretStore, error) {
	db, err := walletdb.Open("bdb", cfg.Wallet)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to open wallet at %v: %v",
			cfg.Wallet, err)
	}

	var (
		account *acctmgr.Account
		store   *acctmgr.SecretStore
	)
	err = walletdb.View(db, func(tx walletdb.ReadTx) error {
		meta := tx.ReadBucket(walletBucket)
		ns := tx.ReadBucket(accountsBucket)
		if meta == nil || ns == nil {
			return fmt.Errorf("wallet database is missing its " +
				"namespaces")
		}

		params := meta.Get(masterKeyParamsName)
		if params == nil {
			return fmt.Errorf("wallet database has no master key " +
				"parameters")
		}
		var err error
		store, err = acctmgr.SecretStoreFromParams(params)
		if err != nil {
			return err
		}

		accountKey := meta.Get(accountKeyName)
		if accountKey == nil {
			return fmt.Errorf("wallet database has no default " +
				"account")
		}
		account, err = acctmgr.LoadAccount(ns, accountKey)
		return err
	})
	if err != nil {
		db.Close()
		return nil, nil, nil, err
	}

	return db, account, store, nil
}

// handleCreate builds a new wallet database: a fresh seed-derived account
// with an outer and an inner chain, sealed under a passphrase-derived secret
// store.
func handleCreate(cfg *config, params []string) (string, error) {
	if _, err := os.Stat(cfg.Wallet); err == nil {
		return "", fmt.Errorf("wallet file %v already exists",
			cfg.Wallet)
	}

	reader := bufio.NewReader(os.Stdin)
	seed, err := prompt.Seed(reader)
	if err != nil {
		return "", err
	}
	defer zero.Bytes(seed)

	privPass, err := prompt.PrivatePass(reader)
	if err != nil {
		return "", err
	}
	defer zero.Bytes(privPass)

	store, err := acctmgr.NewSecretStore(privPass, snacl.DefaultN,
		snacl.DefaultR, snacl.DefaultP)
	if err != nil {
		return "", err
	}
	cipher, err := snacl.GenerateCryptoKey()
	if err != nil {
		return "", err
	}
	defer cipher.Zero()

	master, err := hdkeychain.NewMaster(seed, &chaincfg.MainNetParams)
	if err != nil {
		return "", err
	}
	defer master.Zero()

	masterPub, err := master.ECPubKey()
	if err != nil {
		return "", err
	}
	seedFP := binary.BigEndian.Uint32(
		btcutil.Hash160(masterPub.SerializeCompressed())[:4])

	var acctID acctmgr.AccountID
	binary.BigEndian.PutUint32(acctID[:], seedFP)

	// One receiving and one change chain under a common account node.
	h := uint32(hdkeychain.HardenedKeyStart)
	basePath := []uint32{h + 44, h + 0, h + 0}
	outerID := acctmgr.SubAccountIDFromIndex(0)
	innerID := acctmgr.SubAccountIDFromIndex(1)

	var nodes []acctmgr.BIP32Node
	for branch, subID := range map[uint32]acctmgr.SubAccountID{
		0: outerID,
		1: innerID,
	} {
		node := master
		for _, step := range append(append([]uint32{}, basePath...), branch) {
			node, err = node.Derive(step)
			if err != nil {
				return "", err
			}
		}
		nodes = append(nodes, acctmgr.BIP32Node{
			SubID:  subID,
			Base58: node.String(),
			Path:   append(append([]uint32{}, basePath...), branch),
		})
	}
	sort.Slice(nodes, func(i, j int) bool {
		return nodes[i].Path[len(nodes[i].Path)-1] <
			nodes[j].Path[len(nodes[j].Path)-1]
	})

	desc := acctmgr.BIP32Account{
		AccountPolicy: acctmgr.AccountPolicy{
			AddressTypes: []acctmgr.AddressType{
				acctmgr.AddressTypeP2PKH,
				acctmgr.AddressTypeP2WPKH,
			},
			DefaultType: acctmgr.AddressTypeP2PKH,
			Outer:       &outerID,
			Inner:       &innerID,
		},
		SeedFingerprint: seedFP,
		Nodes:           nodes,
	}

	account, diag, err := acctmgr.NewAccount(acctID, desc, store, cipher,
		nil)
	if err != nil {
		return "", err
	}
	if diag != nil && diag.FallbackOuter {
		log.Warnf("No outer chain designated; using sub-account %x",
			diag.OuterID)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Wallet), 0700); err != nil {
		return "", err
	}
	db, err := walletdb.Create("bdb", cfg.Wallet)
	if err != nil {
		return "", err
	}
	defer db.Close()

	err = walletdb.Update(db, func(tx walletdb.ReadWriteTx) error {
		meta, err := tx.CreateTopLevelBucket(walletBucket)
		if err != nil {
			return err
		}
		ns, err := tx.CreateTopLevelBucket(accountsBucket)
		if err != nil {
			return err
		}

		if err := meta.Put(masterKeyParamsName, store.Marshal()); err != nil {
			return err
		}
		headerKey := append([]byte{0xE1}, acctID[:]...)
		if err := meta.Put(accountKeyName, headerKey); err != nil {
			return err
		}

		return account.Commit(ns)
	})
	if err != nil {
		return "", err
	}

	return fmt.Sprintf("wallet created with account %x", acctID[:]), nil
}

// deriveAddress runs one address derivation inside a write transaction.
func deriveAddress(cfg *config, arg string, change bool) (string, error) {
	addrType, err := parseAddressType(arg)
	if err != nil {
		return "", err
	}

	db, account, _, err := openWallet(cfg)
	if err != nil {
		return "", err
	}
	defer db.Close()

	var addr *acctmgr.Address
	err = walletdb.Update(db, func(tx walletdb.ReadWriteTx) error {
		ns := tx.ReadWriteBucket(accountsBucket)

		var err error
		if change {
			addr, err = account.NewChangeAddress(ns, addrType)
		} else {
			addr, err = account.NewAddress(ns, addrType)
		}
		if err != nil {
			return err
		}
		return account.Commit(ns)
	})
	if err != nil {
		return "", err
	}

	id := addr.AssetID()
	return fmt.Sprintf("%s (asset %x, type %v)", addr.Encode(), id[:],
		addr.Type()), nil
}

func handleNewAddress(cfg *config, params []string) (string, error) {
	arg := ""
	if len(params) > 0 {
		arg = params[0]
	}
	return deriveAddress(cfg, arg, false)
}

func handleChangeAddress(cfg *config, params []string) (string, error) {
	arg := ""
	if len(params) > 0 {
		arg = params[0]
	}
	return deriveAddress(cfg, arg, true)
}

func handlePeekChange(cfg *config, params []string) (string, error) {
	arg := ""
	if len(params) > 0 {
		arg = params[0]
	}
	addrType, err := parseAddressType(arg)
	if err != nil {
		return "", err
	}

	db, account, _, err := openWallet(cfg)
	if err != nil {
		return "", err
	}
	defer db.Close()

	addr, err := account.PeekNextChangeAddress(addrType)
	if err != nil {
		return "", err
	}
	id := addr.AssetID()
	return fmt.Sprintf("%s (asset %x, type %v)", addr.Encode(), id[:],
		addr.Type()), nil
}

// dumpSubAccount is the printable summary of one derivation chain.
type dumpSubAccount struct {
	ID           string `json:"id"`
	Type         uint8  `json:"type"`
	UsedIndex    int64  `json:"usedIndex"`
	ComputedIdx  int64  `json:"computedIndex"`
	WatchingOnly bool   `json:"watchingOnly"`
}

// dumpResult is the printable summary of the default account.
type dumpResult struct {
	AccountID    string           `json:"accountId"`
	DefaultType  string           `json:"defaultType"`
	AddressTypes []string         `json:"addressTypes"`
	SubAccounts  []dumpSubAccount `json:"subAccounts"`
	Addresses    []string         `json:"addresses"`
}

func handleDump(cfg *config, params []string) (string, error) {
	db, account, _, err := openWallet(cfg)
	if err != nil {
		return "", err
	}
	defer db.Close()

	acctID := account.ID()
	result := dumpResult{
		AccountID:   hex.EncodeToString(acctID[:]),
		DefaultType: account.DefaultAddressType().String(),
	}
	for _, t := range account.AddressTypes() {
		result.AddressTypes = append(result.AddressTypes, t.String())
	}

	for _, subID := range account.SubAccountIDs() {
		sub, err := account.SubAccount(subID)
		if err != nil {
			return "", err
		}
		result.SubAccounts = append(result.SubAccounts, dumpSubAccount{
			ID:           hex.EncodeToString(subID[:]),
			Type:         uint8(sub.Type()),
			UsedIndex:    sub.HighestUsedIndex(),
			ComputedIdx:  sub.LastComputedIndex(),
			WatchingOnly: sub.WatchingOnly(),
		})
	}

	used, err := account.UsedAddresses()
	if err != nil {
		return "", err
	}
	encoded := make([]string, 0, len(used))
	for _, addr := range used {
		encoded = append(encoded, addr.Encode())
	}
	sort.Strings(encoded)
	result.Addresses = encoded

	out, err := json.MarshalIndent(&result, "", "  ")
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func handleDumpPrivKey(cfg *config, params []string) (string, error) {
	if len(params) < 1 {
		return "", fmt.Errorf("dumpprivkey requires a hex asset id")
	}
	idBytes, err := hex.DecodeString(params[0])
	if err != nil || len(idBytes) != acctmgr.AssetIDSize {
		return "", fmt.Errorf("invalid asset id %q", params[0])
	}
	var id acctmgr.AssetID
	copy(id[:], idBytes)

	db, account, store, err := openWallet(cfg)
	if err != nil {
		return "", err
	}
	defer db.Close()

	pass, err := prompt.ProvidePrivPassphrase()
	if err != nil {
		return "", err
	}
	defer zero.Bytes(pass)
	if err := store.Unlock(pass); err != nil {
		return "", err
	}
	defer store.Lock()

	// The chain may only have public material at this index so far.
	err = walletdb.Update(db, func(tx walletdb.ReadWriteTx) error {
		ns := tx.ReadWriteBucket(accountsBucket)
		return account.ExtendPrivateChainToIndex(ns, store,
			id.SubAccountID(), id.Index())
	})
	if err != nil {
		return "", err
	}

	privKey, err := account.FillPrivateKey(store, id)
	if err != nil {
		return "", err
	}
	result := hex.EncodeToString(privKey)
	zero.Bytes(privKey)

	return result, nil
}

func handleExportPub(cfg *config, params []string) (string, error) {
	if len(params) < 1 {
		return "", fmt.Errorf("exportpub requires an output file")
	}

	db, account, _, err := openWallet(cfg)
	if err != nil {
		return "", err
	}
	defer db.Close()

	data, err := account.ExportPublicData()
	if err != nil {
		return "", err
	}
	out, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(params[0], out, 0600); err != nil {
		return "", err
	}

	return fmt.Sprintf("public snapshot written to %v", params[0]), nil
}

func handleImportPub(cfg *config, params []string) (string, error) {
	if len(params) < 1 {
		return "", fmt.Errorf("importpub requires an input file")
	}
	raw, err := os.ReadFile(params[0])
	if err != nil {
		return "", err
	}
	var data acctmgr.AccountPublicData
	if err := json.Unmarshal(raw, &data); err != nil {
		return "", fmt.Errorf("malformed snapshot: %v", err)
	}

	db, account, _, err := openWallet(cfg)
	if err != nil {
		return "", err
	}
	defer db.Close()

	if err := account.ImportPublicData(&data); err != nil {
		return "", err
	}
	err = walletdb.Update(db, func(tx walletdb.ReadWriteTx) error {
		return account.Commit(tx.ReadWriteBucket(accountsBucket))
	})
	if err != nil {
		return "", err
	}

	return "public snapshot imported", nil
}

func main() {
	cfg, args, err := loadConfig()
	if err != nil {
		os.Exit(1)
	}
	if len(args) < 1 {
		usage("No command specified")
		os.Exit(1)
	}

	initLogRotator(filepath.Join(cfg.LogDir, "halwalletctl.log"))
	defer logRotator.Close()
	if err := setLogLevel(cfg.DebugLevel); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	method := args[0]
	handler, ok := commandHandlers[method]
	if !ok {
		fmt.Fprintf(os.Stderr, "Unrecognized command '%s'\n", method)
		fmt.Fprintln(os.Stderr, listCmdMessage)
		os.Exit(1)
	}

	result, err := handler(cfg, args[1:])
	if err != nil {
		log.Errorf("%s: %v", method, err)
		os.Exit(1)
	}
	fmt.Println(result)
}
