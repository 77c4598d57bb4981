package model

import "testing"

func TestParsePublicKey(t *testing.T) {
	valid := "o52Ge+Rpj4CUSitVag9mS7pSXUesNM0ESnvj/wwehkg="
	if !IsValidPublicKey(valid) {
		t.Fatalf("expected %q to be a valid public key", valid)
	}
	if _, err := ParsePublicKey(valid); err != nil {
		t.Fatalf("unexpected error parsing valid key: %v", err)
	}

	cases := []string{
		"not_a_key",
		"",
		"o52Ge+Rpj4CUSitVag9mS7pSXUesNM0ESnvj/wwehkgX=", // wrong length
		"o52Ge+Rpj4CUSitVag9mS7pSXUesNM0ESnvj/wwehkgZ",  // missing padding
	}
	for _, c := range cases {
		if IsValidPublicKey(c) {
			t.Errorf("expected %q to be invalid", c)
		}
		if _, err := ParsePublicKey(c); err == nil {
			t.Errorf("expected error parsing %q", c)
		}
	}
}
