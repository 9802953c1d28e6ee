// Command flatkv is an interactive shell over a store.Handle, in the
// spirit of the classic dbm command-line drivers: one line in, one
// command executed, repeat until quit.
package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/brickhouse-io/flatkv/internal/oplog"
	"github.com/brickhouse-io/flatkv/internal/syslogger"
	"github.com/brickhouse-io/flatkv/kverrors"
	"github.com/brickhouse-io/flatkv/store"
)

func main() {
	if len(os.Args) != 2 {
		fmt.Fprintf(os.Stderr, "usage: %s <dbname>\n", os.Args[0])
		os.Exit(2)
	}

	kverrors.SetFatalSink(syslogger.NewSink())

	logger, err := oplog.New()
	if err != nil {
		fmt.Fprintf(os.Stderr, "flatkv: could not start logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	db := openDB(os.Args[1], logger)
	defer db.Close()

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Printf("> ")
		if !scanner.Scan() {
			break
		}
		if executeCmd(db, scanner.Text()) {
			break
		}
	}
}

func openDB(name string, logger *zap.SugaredLogger) *store.Handle {
	opts := store.DefaultOpenOptions(name)
	opts.Create = true
	opts.Logger = logger
	db, err := store.Open(opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "flatkv: could not open %s: %v\n", name, err)
		os.Exit(1)
	}
	return db
}

func executeCmd(db *store.Handle, cmdArgs string) (quit bool) {
	args := strings.Fields(cmdArgs)
	if len(args) == 0 {
		return false
	}
	cmd := args[0]
	switch cmd {
	case "put":
		if len(args) != 3 {
			fmt.Println("usage: put <key> <value>")
			return false
		}
		if err := db.Store(args[1], args[2], store.ModeInsert); err != nil {
			fmt.Printf("put %s: %v\n", args[1], err)
		}
	case "update":
		if len(args) != 3 {
			fmt.Println("usage: update <key> <value>")
			return false
		}
		if err := db.Store(args[1], args[2], store.ModeReplace); err != nil {
			fmt.Printf("update %s: %v\n", args[1], err)
		}
	case "upsert":
		if len(args) != 3 {
			fmt.Println("usage: upsert <key> <value>")
			return false
		}
		if err := db.Store(args[1], args[2], store.ModeUpsert); err != nil {
			fmt.Printf("upsert %s: %v\n", args[1], err)
		}
	case "get":
		if len(args) != 2 {
			fmt.Println("usage: get <key>")
			return false
		}
		val, err := db.Fetch(args[1])
		if err != nil {
			fmt.Printf("get %s: %v\n", args[1], err)
			return false
		}
		fmt.Println(val)
	case "delete":
		if len(args) != 2 {
			fmt.Println("usage: delete <key>")
			return false
		}
		if err := db.Delete(args[1]); err != nil {
			fmt.Printf("delete %s: %v\n", args[1], err)
		}
	case "list":
		db.Rewind()
		for {
			key, val, ok, err := db.Next()
			if err != nil {
				fmt.Printf("list: %v\n", err)
				return false
			}
			if !ok {
				break
			}
			fmt.Printf("%s=%s\n", key, val)
		}
	case "vacuum":
		if err := db.Vacuum(); err != nil {
			fmt.Printf("vacuum: %v\n", err)
		}
	case "stats":
		stats := db.Stats()
		fmt.Printf("%+v\n", stats)
	case "quit", "exit":
		return true
	default:
		fmt.Printf("unknown command %q\n", cmd)
		fmt.Println("supported: put|update|upsert|get|delete|list|vacuum|stats|quit")
	}
	return false
}
