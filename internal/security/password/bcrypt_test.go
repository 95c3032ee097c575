package password_test

import (
	"testing"

	"github.com/dropDatabas3/idlink/internal/security/password"
)

func TestHashAndVerify(t *testing.T) {
	h, err := password.Hash("s3cret")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if !password.Verify("s3cret", h) {
		t.Error("verify should accept the original password")
	}
	if password.Verify("wrong", h) {
		t.Error("verify should reject a wrong password")
	}
}

func TestEmptyInputs(t *testing.T) {
	if _, err := password.Hash(""); err == nil {
		t.Error("hashing an empty password should fail")
	}
	if password.Verify("anything", "") {
		t.Error("empty hash should never match")
	}
}
