package util

import (
	"bytes"
	"strings"
	"testing"
)

func TestHashWriter(t *testing.T) {
	const input = "hello1 hello2 hello3 hello4 hello5abcdefghijklmnopqrstuvwxyz0123456789"
	const goal = "0101fc798d94a730b0f0bf1bd2cc1959"
	var w = new(bytes.Buffer)
	hw := NewHashWriter(w)
	hw.Write([]byte(input))
	if hw.SumMD5() != goal {
		t.Fatalf("Got %s, expected %s", hw.SumMD5(), goal)
	}
	if hw.Size() != int64(len(input)) {
		t.Fatalf("Got size %d, expected %d", hw.Size(), len(input))
	}
	if w.String() != input {
		t.Fatalf("Wrapped writer received %#v", w.String())
	}
}

func TestVerifyStream(t *testing.T) {
	const input = "hello world"
	const goal = "5eb63bbbe01eeed093cb22bb8f5acdc3"
	ok, err := VerifyStream(strings.NewReader(input), goal)
	if err != nil || !ok {
		t.Fatalf("Got %v %v, expected match", ok, err)
	}
	ok, err = VerifyStream(strings.NewReader(input), "ffff")
	if err != nil || ok {
		t.Fatalf("Got %v %v, expected mismatch", ok, err)
	}
	ok, err = VerifyStream(strings.NewReader(input), "")
	if err != nil || !ok {
		t.Fatalf("Got %v %v, expected empty goal to match", ok, err)
	}
}
