package cache

import (
	"testing"

	"github.com/lattice-run/llmgate/internal/core"
)

func TestFingerprintDeterministic(t *testing.T) {
	req := core.Request{Model: "gpt-4o", Prompt: "hello world"}
	a := NewFingerprint(req)
	b := NewFingerprint(req)
	if a != b {
		t.Fatal("expected identical requests to produce identical fingerprints")
	}
}

func TestFingerprintIgnoresGenerationParams(t *testing.T) {
	temp1 := 0.1
	temp2 := 0.9
	base := core.Request{Model: "gpt-4o", Prompt: "hello world"}
	withTemp1 := base
	withTemp1.Temperature = &temp1
	withTemp2 := base
	withTemp2.Temperature = &temp2

	if NewFingerprint(withTemp1) != NewFingerprint(withTemp2) {
		t.Fatal("expected temperature to not affect the fingerprint")
	}
}

func TestFingerprintDistinguishesModel(t *testing.T) {
	a := NewFingerprint(core.Request{Model: "gpt-4o", Prompt: "hello"})
	b := NewFingerprint(core.Request{Model: "claude-3", Prompt: "hello"})
	if a == b {
		t.Fatal("expected different models to produce different fingerprints")
	}
}

func TestFingerprintDistinguishesPromptAcrossBoundary(t *testing.T) {
	// Without domain separation, model="ab"+prompt="c" could collide with
	// model="a"+prompt="bc". The \x00 separators must prevent that.
	a := NewFingerprint(core.Request{Model: "ab", Prompt: "c"})
	b := NewFingerprint(core.Request{Model: "a", Prompt: "bc"})
	if a == b {
		t.Fatal("expected domain-separated fingerprints to avoid concatenation collisions")
	}
}
