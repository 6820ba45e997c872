package main

import (
	"strings"
	"testing"
	"time"

	"github.com/guilhermelhr/TOBLamport/pkg/model"
)

func TestParseScript(t *testing.T) {
	src := `
# demo
write 0 x 7

sread 1 x
dread 2 balance
sleep 150ms
`
	ops, err := parseScript(strings.NewReader(src))
	if err != nil {
		t.Fatalf("parseScript: %v", err)
	}
	if len(ops) != 4 {
		t.Fatalf("got %d ops, want 4", len(ops))
	}
	if ops[0].kind != "write" || ops[0].replica != 0 || ops[0].key != "x" || ops[0].value != 7 {
		t.Fatalf("op 0: got %+v", ops[0])
	}
	if ops[1].kind != "sread" || ops[1].replica != 1 {
		t.Fatalf("op 1: got %+v", ops[1])
	}
	if ops[2].kind != "dread" || ops[2].key != "balance" {
		t.Fatalf("op 2: got %+v", ops[2])
	}
	if ops[3].kind != "sleep" || ops[3].pause != 150*time.Millisecond {
		t.Fatalf("op 3: got %+v", ops[3])
	}
}

func TestParseScriptRejectsBadLines(t *testing.T) {
	cases := []string{
		"write 0 x",          // missing value
		"write zero x 7",     // bad replica
		"write 0 x seven",    // bad value
		"sread 0",            // missing key
		"sleep fast",         // bad duration
		"poke 0 x",           // not a client op
	}
	for _, src := range cases {
		if _, err := parseScript(strings.NewReader(src)); err == nil {
			t.Errorf("parseScript(%q): expected error", src)
		}
	}
}

func TestValidateScript(t *testing.T) {
	ops := []scriptOp{
		{kind: "write", replica: 0, key: "x", value: 1},
		{kind: "sleep", pause: time.Millisecond},
	}
	if err := validateScript(ops, 3, []string{"x"}); err != nil {
		t.Fatalf("valid script rejected: %v", err)
	}

	bad := []scriptOp{{kind: "write", replica: 3, key: "x"}}
	if err := validateScript(bad, 3, []string{"x"}); err == nil {
		t.Fatal("out-of-range replica accepted")
	}
	bad = []scriptOp{{kind: "sread", replica: 0, key: "nope"}}
	if err := validateScript(bad, 3, []string{"x"}); err == nil {
		t.Fatal("unknown key accepted")
	}
}

func TestBuiltinScriptIsValid(t *testing.T) {
	if err := validateScript(builtinScript(), 3, []string{"x"}); err != nil {
		t.Fatalf("builtin script invalid: %v", err)
	}
}

func TestSplitKeys(t *testing.T) {
	got := splitKeys(" x, y ,,z ")
	if len(got) != 3 || got[0] != "x" || got[1] != "y" || got[2] != "z" {
		t.Fatalf("splitKeys: got %v", got)
	}
}

func TestPayloadString(t *testing.T) {
	if s := payloadString(7); s != "7" {
		t.Fatalf("payloadString(7): got %q", s)
	}
	if s := payloadString(model.Unset); s != "unset" {
		t.Fatalf("payloadString(Unset): got %q", s)
	}
}
