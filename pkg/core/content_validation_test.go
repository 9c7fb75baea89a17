package core

import (
	"strings"
	"testing"
)

func TestValidateModelKey_Valid(t *testing.T) {
	cases := []ModelKey{
		"mistralai/Mistral-7B-v0.1",
		"owner/name/variant",
	}
	for _, key := range cases {
		if err := ValidateModelKey(key); err != nil {
			t.Errorf("ValidateModelKey(%q) = %v, want nil", key, err)
		}
	}
}

func TestValidateModelKey_Empty(t *testing.T) {
	if err := ValidateModelKey(""); !strings.Contains(err.Error(), ErrInvalidModelKey.Error()) {
		t.Fatalf("expected ErrInvalidModelKey, got: %v", err)
	}
}

func TestValidateModelKey_Whitespace(t *testing.T) {
	if err := ValidateModelKey(" owner/name"); !strings.Contains(err.Error(), ErrInvalidModelKey.Error()) {
		t.Fatalf("expected leading whitespace to be rejected, got: %v", err)
	}
	if err := ValidateModelKey("owner/na me"); !strings.Contains(err.Error(), ErrInvalidModelKey.Error()) {
		t.Fatalf("expected embedded whitespace to be rejected, got: %v", err)
	}
}

func TestValidateModelKey_MissingSeparator(t *testing.T) {
	if err := ValidateModelKey("no-slash"); !strings.Contains(err.Error(), ErrInvalidModelKey.Error()) {
		t.Fatalf("expected missing separator to be rejected, got: %v", err)
	}
}

func TestValidateModelKey_ExtraSlashesAllowed(t *testing.T) {
	if err := ValidateModelKey("owner/name/extra/segment"); err != nil {
		t.Fatalf("expected additional slashes to be permitted, got: %v", err)
	}
}

func TestValidateModelKey_TooLong(t *testing.T) {
	if err := SetMaxModelKeyBytes(16); err != nil {
		t.Fatalf("SetMaxModelKeyBytes failed: %v", err)
	}
	t.Cleanup(func() {
		_ = SetMaxModelKeyBytes(DefaultMaxModelKeyBytes)
	})

	if err := ValidateModelKey("owner/short"); err != nil {
		t.Fatalf("expected key under runtime limit to pass: %v", err)
	}
	if err := ValidateModelKey("owner/way-too-long-name"); !strings.Contains(err.Error(), ErrModelKeyTooLong.Error()) {
		t.Fatalf("expected ErrModelKeyTooLong, got: %v", err)
	}
}
