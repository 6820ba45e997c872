// Command tob simulates a replicated key-value store whose replicas agree
// on one global operation order using Lamport clocks and totally ordered
// delivery — no wall clocks, no coordinator.
package main

import (
	"encoding/json"
	"fmt"
	"os"
)

const version = "1.0.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "--help", "-h", "help":
		printUsage()
		return
	case "--version", "-v", "version":
		fmt.Println("tob", version)
		return
	case "run":
		os.Exit(cmdRun(os.Args[2:]))
	case "verify":
		os.Exit(cmdVerify(os.Args[2:]))
	default:
		fmt.Fprintf(os.Stderr, "tob: unknown command %q\n", os.Args[1])
		fmt.Fprintln(os.Stderr, "Run 'tob --help' for usage.")
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Print(`tob — totally ordered replicated key-value store simulator

Lamport clocks establish one global order for all writes and reads across a
fixed set of in-process replicas; a Poke/Ack protocol keeps ordering live
when a peer is silent. Every replica applies the same writes in the same
order — 'run' demonstrates it, the optional SQLite trace proves it.

Usage:
  tob <command> [flags]

Commands:
  run       Simulate a cluster over a script of client operations
  verify    Check a recorded trace for cross-replica write-order agreement
  version   Print the version

run flags:
  --replicas N     replica count (default 3)
  --keys a,b       fixed key set (default "x")
  --ops FILE       operation script (default: built-in demo)
  --trace PATH     record applied operations to a SQLite trace
  --settle DUR     drain window after the last operation (default 2s)
  --json           machine-readable output

verify flags:
  --trace PATH     trace to check (required)
  --json           machine-readable output

Script format (one operation per line, '#' comments):
  write <replica> <key> <value>   client Write submitted via <replica>
  sread <replica> <key>           ShallowRead (answered by one replica)
  dread <replica> <key>           DeepRead (answered by every replica)
  sleep <duration>                pause before the next operation

Environment:
  TOB_TRACE   default --trace path for 'run'

Exit codes:
  0  success
  1  error
  2  write-order disagreement detected
`)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// printJSON writes v to stdout as indented JSON.
func printJSON(v interface{}) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
