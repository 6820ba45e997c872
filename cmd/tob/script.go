package main

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/guilhermelhr/TOBLamport/pkg/model"
)

// scriptOp is one line of an operation script.
type scriptOp struct {
	kind    string // "write", "sread", "dread", "sleep"
	replica int
	key     string
	value   int64
	pause   time.Duration
}

// message builds the client request for a non-sleep op.
func (op scriptOp) message() model.Message {
	switch op.kind {
	case "write":
		return model.NewWrite(op.key, op.value)
	case "sread":
		return model.NewShallowRead(op.key)
	default: // dread
		return model.NewDeepRead(op.key)
	}
}

// parseScript reads an operation script: one op per line, blank lines and
// '#' comments ignored.
func parseScript(r io.Reader) ([]scriptOp, error) {
	var ops []scriptOp
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		op, err := parseOp(fields)
		if err != nil {
			return nil, fmt.Errorf("script line %d: %w", lineNo, err)
		}
		ops = append(ops, op)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return ops, nil
}

func parseOp(fields []string) (scriptOp, error) {
	switch fields[0] {
	case "write":
		if len(fields) != 4 {
			return scriptOp{}, fmt.Errorf("usage: write <replica> <key> <value>")
		}
		replica, err := strconv.Atoi(fields[1])
		if err != nil {
			return scriptOp{}, fmt.Errorf("bad replica %q", fields[1])
		}
		value, err := strconv.ParseInt(fields[3], 10, 64)
		if err != nil {
			return scriptOp{}, fmt.Errorf("bad value %q", fields[3])
		}
		return scriptOp{kind: "write", replica: replica, key: fields[2], value: value}, nil

	case "sread", "dread":
		if len(fields) != 3 {
			return scriptOp{}, fmt.Errorf("usage: %s <replica> <key>", fields[0])
		}
		replica, err := strconv.Atoi(fields[1])
		if err != nil {
			return scriptOp{}, fmt.Errorf("bad replica %q", fields[1])
		}
		return scriptOp{kind: fields[0], replica: replica, key: fields[2]}, nil

	case "sleep":
		if len(fields) != 2 {
			return scriptOp{}, fmt.Errorf("usage: sleep <duration>")
		}
		d, err := time.ParseDuration(fields[1])
		if err != nil {
			return scriptOp{}, fmt.Errorf("bad duration %q", fields[1])
		}
		return scriptOp{kind: "sleep", pause: d}, nil
	}
	return scriptOp{}, fmt.Errorf("unknown op %q", fields[0])
}

// validateScript checks every op against the cluster shape before anything
// runs: referencing an unknown replica or key is a configuration error and
// should fail fast, not mid-simulation.
func validateScript(ops []scriptOp, replicas int, keys []string) error {
	known := make(map[string]bool, len(keys))
	for _, k := range keys {
		known[k] = true
	}
	for i, op := range ops {
		if op.kind == "sleep" {
			continue
		}
		if op.replica < 0 || op.replica >= replicas {
			return fmt.Errorf("op %d: replica %d outside cluster of %d", i+1, op.replica, replicas)
		}
		if !known[op.key] {
			return fmt.Errorf("op %d: unknown key %q", i+1, op.key)
		}
	}
	return nil
}

// builtinScript is the demo run: a write through replica 0, a settled read
// through replica 1, then racing writes and a deep read to show agreement.
func builtinScript() []scriptOp {
	return []scriptOp{
		{kind: "write", replica: 0, key: "x", value: 7},
		{kind: "sleep", pause: 200 * time.Millisecond},
		{kind: "sread", replica: 1, key: "x"},
		{kind: "write", replica: 1, key: "x", value: 8},
		{kind: "write", replica: 2, key: "x", value: 9},
		{kind: "sleep", pause: 200 * time.Millisecond},
		{kind: "dread", replica: 0, key: "x"},
	}
}
