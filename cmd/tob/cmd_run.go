package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/guilhermelhr/TOBLamport/pkg/bus"
	"github.com/guilhermelhr/TOBLamport/pkg/model"
	"github.com/guilhermelhr/TOBLamport/pkg/replica"
	"github.com/guilhermelhr/TOBLamport/pkg/trace"
)

func cmdRun(args []string) int {
	flags := flag.NewFlagSet("run", flag.ContinueOnError)
	nReplicas := flags.Int("replicas", 3, "replica count")
	keysFlag := flags.String("keys", "x", "comma-separated fixed key set")
	opsPath := flags.String("ops", "", "operation script (default: built-in demo)")
	tracePath := flags.String("trace", envOr("TOB_TRACE", ""), "SQLite trace path (empty = no trace)")
	settle := flags.Duration("settle", 2*time.Second, "drain window after the last operation")
	jsonOut := flags.Bool("json", false, "JSON output")
	if err := flags.Parse(args); err != nil {
		return 1
	}

	if *nReplicas < 1 {
		fmt.Fprintln(os.Stderr, "tob: run: need at least one replica")
		return 1
	}
	keys := splitKeys(*keysFlag)
	if len(keys) == 0 {
		fmt.Fprintln(os.Stderr, "tob: run: need at least one key")
		return 1
	}

	ops := builtinScript()
	if *opsPath != "" {
		f, err := os.Open(*opsPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "tob: run: %v\n", err)
			return 1
		}
		ops, err = parseScript(f)
		f.Close()
		if err != nil {
			fmt.Fprintf(os.Stderr, "tob: run: %v\n", err)
			return 1
		}
	}
	if err := validateScript(ops, *nReplicas, keys); err != nil {
		fmt.Fprintf(os.Stderr, "tob: run: %v\n", err)
		return 1
	}

	var rec *trace.Store
	if *tracePath != "" {
		var err error
		rec, err = trace.Open(*tracePath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "tob: run: %v\n", err)
			return 1
		}
		defer rec.Close()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b := bus.New()
	replicas := make([]*replica.Replica, *nReplicas)
	for i := 0; i < *nReplicas; i++ {
		cfg := replica.Config{
			Name:      fmt.Sprintf("replica-%d", i),
			Keys:      keys,
			Peers:     *nReplicas,
			Transport: b,
			OnError: func(err error) {
				fmt.Fprintf(os.Stderr, "tob: %v\n", err)
			},
		}
		if rec != nil {
			cfg.Recorder = rec
		}
		r, err := replica.New(cfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "tob: run: %v\n", err)
			return 1
		}
		replicas[i] = r
	}
	for _, r := range replicas {
		r.Start(ctx)
	}

	// Collect client replies as they surface.
	var repliesMu sync.Mutex
	var replies []model.Message
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case m := <-b.Replies():
				repliesMu.Lock()
				replies = append(replies, m)
				repliesMu.Unlock()
				if !*jsonOut {
					fmt.Printf("reply  key=%s value=%s  (stamped %d by replica %d)\n",
						m.Key, payloadString(m.Payload), m.Clock.Counter, m.Clock.Owner)
				}
			}
		}
	}()

	for _, op := range ops {
		if op.kind == "sleep" {
			time.Sleep(op.pause)
			continue
		}
		m := op.message()
		if !*jsonOut {
			fmt.Printf("submit %s key=%s via replica %d\n", m.Action, m.Key, op.replica)
		}
		if err := b.SendTo(m, op.replica); err != nil {
			fmt.Fprintf(os.Stderr, "tob: run: %v\n", err)
			return 1
		}
	}
	time.Sleep(*settle)
	cancel()

	finals := make([]map[string]int64, len(replicas))
	for i, r := range replicas {
		finals[i] = r.Values()
	}
	agree := valuesAgree(finals)

	var divergences []trace.Divergence
	if rec != nil {
		var err error
		divergences, err = rec.VerifyAgreement()
		if err != nil {
			fmt.Fprintf(os.Stderr, "tob: run: verify: %v\n", err)
			return 1
		}
	}

	repliesMu.Lock()
	defer repliesMu.Unlock()
	if *jsonOut {
		printJSON(map[string]interface{}{
			"replies":      replies,
			"final_values": finals,
			"values_agree": agree,
			"divergences":  divergences,
		})
	} else {
		printFinals(finals, keys)
		if rec != nil {
			fmt.Printf("trace: %d divergence(s)\n", len(divergences))
			for _, d := range divergences {
				fmt.Printf("  %s\n", d.Detail)
			}
		}
	}

	if !agree || len(divergences) > 0 {
		return 2
	}
	return 0
}

func splitKeys(s string) []string {
	var keys []string
	for _, k := range strings.Split(s, ",") {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}

// payloadString renders the unset sentinel readably.
func payloadString(v int64) string {
	if v == model.Unset {
		return "unset"
	}
	return fmt.Sprintf("%d", v)
}

func valuesAgree(finals []map[string]int64) bool {
	if len(finals) == 0 {
		return true
	}
	base := finals[0]
	for _, vals := range finals[1:] {
		for key, v := range base {
			if vals[key] != v {
				return false
			}
		}
	}
	return true
}

func printFinals(finals []map[string]int64, keys []string) {
	sorted := append([]string(nil), keys...)
	sort.Strings(sorted)
	for i, vals := range finals {
		parts := make([]string, 0, len(sorted))
		for _, key := range sorted {
			parts = append(parts, fmt.Sprintf("%s=%s", key, payloadString(vals[key])))
		}
		fmt.Printf("replica %d: %s\n", i, strings.Join(parts, " "))
	}
}
