package model

import "testing"

func TestNewDomainTable(t *testing.T) {
	tbl, err := NewDomainTable([]string{"ffmuc_welt", "ffmuc_nord"}, []string{"ffmuc_"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	d, err := tbl.ParseDomain("ffmuc_welt")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if suf, _ := tbl.Suffix(d); suf != "welt" {
		t.Errorf("expected suffix 'welt', got %q", suf)
	}
	if iface, _ := tbl.WireguardInterface(d); iface != "wg-welt" {
		t.Errorf("expected wg-welt, got %q", iface)
	}
	if iface, _ := tbl.BridgeInterface(d); iface != "vx-welt" {
		t.Errorf("expected vx-welt, got %q", iface)
	}

	if _, err := tbl.ParseDomain("unknown"); err == nil {
		t.Error("expected error for unknown domain")
	}
}

func TestNewDomainTable_DuplicateSuffix(t *testing.T) {
	_, err := NewDomainTable([]string{"ffmuc_welt", "other_welt"}, []string{"ffmuc_", "other_"})
	if err == nil {
		t.Fatal("expected error for duplicate suffix")
	}
}

func TestNewDomainTable_BadPrefix(t *testing.T) {
	_, err := NewDomainTable([]string{"nomatch"}, []string{"ffmuc_"})
	if err == nil {
		t.Fatal("expected error for domain with no matching prefix")
	}
}
