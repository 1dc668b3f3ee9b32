package kiro

import "testing"

func TestGeneratePKCE(t *testing.T) {
	codes, err := GeneratePKCE()
	if err != nil {
		t.Fatal(err)
	}
	if codes.CodeVerifier == "" || codes.CodeChallenge == "" {
		t.Fatal("expected non-empty verifier and challenge")
	}
	if codes.CodeVerifier == codes.CodeChallenge {
		t.Fatal("challenge should not equal verifier")
	}

	again := generateCodeChallenge(codes.CodeVerifier)
	if again != codes.CodeChallenge {
		t.Fatal("challenge derivation must be deterministic for a given verifier")
	}
}

func TestGenerateStateUnique(t *testing.T) {
	a, err := generateState()
	if err != nil {
		t.Fatal(err)
	}
	b, err := generateState()
	if err != nil {
		t.Fatal(err)
	}
	if a == b {
		t.Fatal("expected distinct states across calls")
	}
}
