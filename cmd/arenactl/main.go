package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/vctt94/snakearena/pkg/config"
	"github.com/vctt94/snakearena/pkg/server"
)

var (
	configPath = flag.String("config", "", "Path to YAML config file")
	dbPath     = flag.String("db", "", "Path to SQLite database file (overrides config)")
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [global flags] <command> [args]\n", os.Args[0])
		fmt.Fprintln(os.Stderr, "Commands:")
		fmt.Fprintln(os.Stderr, "  create-account NAME [COINS]      Create an account; prints its ID")
		fmt.Fprintln(os.Stderr, "  credit ACCOUNT AMOUNT [--desc D] Deposit coins")
		fmt.Fprintln(os.Stderr, "  balance ACCOUNT                  Show account (JSON)")
		fmt.Fprintln(os.Stderr, "  history ACCOUNT [--limit N]      Show ledger entries (JSON)")
		fmt.Fprintln(os.Stderr, "  matchtypes                       List match types (JSON)")
		fmt.Fprintln(os.Stderr, "  open-match TYPE_ID               Open an empty WAITING match")
		fmt.Fprintln(os.Stderr, "  match ID                         Show match and roster (JSON)")
		fmt.Fprintln(os.Stderr, "  pending                          List matches waiting for settlement")
		fmt.Fprintln(os.Stderr, "\nGlobal flags:")
		flag.PrintDefaults()
	}

	flag.CommandLine.SetOutput(io.Discard)
	flag.Parse()
	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fatalErr(err)
	}
	if *dbPath != "" {
		cfg.DBPath = *dbPath
	}
	db, err := server.NewDatabase(cfg.DBPath)
	if err != nil {
		fatalErr(err)
	}
	defer db.Close()

	ctx := context.Background()
	args := flag.Args()[1:]

	switch flag.Arg(0) {
	case "create-account":
		err = handleCreateAccount(ctx, db, args)
	case "credit":
		err = handleCredit(ctx, db, args)
	case "balance":
		err = handleBalance(ctx, db, args)
	case "history":
		err = handleHistory(ctx, db, args)
	case "matchtypes":
		var types []server.MatchType
		if types, err = db.MatchTypes(ctx, true); err == nil {
			err = printJSON(types)
		}
	case "open-match":
		err = handleOpenMatch(ctx, db, args)
	case "match":
		err = handleMatch(ctx, db, args)
	case "pending":
		var pending []server.PendingSettlement
		if pending, err = db.PendingSettlements(ctx); err == nil {
			for _, p := range pending {
				fmt.Printf("%d\t%d bytes\n", p.MatchID, len(p.Outcome))
			}
		}
	default:
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		fatalErr(err)
	}
}

func fatal(msg string) {
	fmt.Fprintln(os.Stderr, msg)
	os.Exit(1)
}

func fatalErr(err error) {
	fatal(err.Error())
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func parseID(args []string, what string) (int64, error) {
	if len(args) < 1 {
		return 0, fmt.Errorf("%s required", what)
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s %q", what, args[0])
	}
	return id, nil
}

func handleCreateAccount(ctx context.Context, db server.Database, args []string) error {
	if len(args) < 1 {
		return errors.New("create-account requires NAME")
	}
	var coins int64
	if len(args) > 1 {
		var err error
		if coins, err = strconv.ParseInt(args[1], 10, 64); err != nil {
			return fmt.Errorf("invalid coins %q", args[1])
		}
	}
	a, err := db.CreateAccount(ctx, args[0], coins)
	if err != nil {
		return err
	}
	fmt.Println(a.ID)
	return nil
}

func handleCredit(ctx context.Context, db server.Database, args []string) error {
	id, err := parseID(args, "account id")
	if err != nil {
		return err
	}
	fs := flag.NewFlagSet("credit", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	desc := fs.String("desc", "manual deposit", "Ledger description")
	if len(args) < 2 {
		return errors.New("credit requires ACCOUNT AMOUNT")
	}
	if err := fs.Parse(args[2:]); err != nil {
		return fmt.Errorf("credit: %w", err)
	}
	amount, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil || amount <= 0 {
		return fmt.Errorf("invalid amount %q", args[1])
	}
	before, after, err := db.Credit(ctx, id, amount, server.TxDeposit, 0, *desc)
	if err != nil {
		return err
	}
	fmt.Printf("%d -> %d\n", before, after)
	return nil
}

func handleBalance(ctx context.Context, db server.Database, args []string) error {
	id, err := parseID(args, "account id")
	if err != nil {
		return err
	}
	a, err := db.Account(ctx, id)
	if err != nil {
		return err
	}
	return printJSON(a)
}

func handleHistory(ctx context.Context, db server.Database, args []string) error {
	id, err := parseID(args, "account id")
	if err != nil {
		return err
	}
	fs := flag.NewFlagSet("history", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	limit := fs.Int("limit", 20, "Number of entries")
	if err := fs.Parse(args[1:]); err != nil {
		return fmt.Errorf("history: %w", err)
	}
	txs, err := db.Transactions(ctx, id, *limit)
	if err != nil {
		return err
	}
	return printJSON(txs)
}

func handleOpenMatch(ctx context.Context, db server.Database, args []string) error {
	typeID, err := parseID(args, "match type id")
	if err != nil {
		return err
	}
	id, err := db.CreateMatch(ctx, typeID)
	if err != nil {
		return err
	}
	fmt.Println(id)
	return nil
}

func handleMatch(ctx context.Context, db server.Database, args []string) error {
	id, err := parseID(args, "match id")
	if err != nil {
		return err
	}
	m, err := db.Match(ctx, id)
	if err != nil {
		return err
	}
	roster, err := db.Participants(ctx, id)
	if err != nil {
		return err
	}
	m.Replay = nil
	return printJSON(struct {
		Match        *server.Match
		Participants []server.Participant
	}{m, roster})
}
