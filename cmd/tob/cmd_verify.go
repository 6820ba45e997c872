package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/guilhermelhr/TOBLamport/pkg/trace"
)

func cmdVerify(args []string) int {
	flags := flag.NewFlagSet("verify", flag.ContinueOnError)
	tracePath := flags.String("trace", envOr("TOB_TRACE", ""), "trace to check")
	jsonOut := flags.Bool("json", false, "JSON output")
	if err := flags.Parse(args); err != nil {
		return 1
	}
	if *tracePath == "" {
		fmt.Fprintln(os.Stderr, "usage: tob verify --trace PATH")
		return 1
	}

	s, err := trace.Open(*tracePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "tob: verify: %v\n", err)
		return 1
	}
	defer s.Close()

	divs, err := s.VerifyAgreement()
	if err != nil {
		fmt.Fprintf(os.Stderr, "tob: verify: %v\n", err)
		return 1
	}

	if *jsonOut {
		printJSON(map[string]interface{}{
			"agree":       len(divs) == 0,
			"divergences": divs,
		})
	} else if len(divs) == 0 {
		fmt.Println("all replicas applied the same writes in the same order")
	} else {
		for _, d := range divs {
			fmt.Printf("key %s, replicas %d/%d: %s\n", d.Key, d.ReplicaA, d.ReplicaB, d.Detail)
		}
	}

	if len(divs) > 0 {
		return 2
	}
	return 0
}
