package blacklist

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestBlacklist_DictFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blacklist.yaml")
	content := "o52Ge+Rpj4CUSitVag9mS7pSXUesNM0ESnvj/wwehkg=: Abuse\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write blacklist: %v", err)
	}

	b, err := New(path, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer b.Stop()

	key := "o52Ge+Rpj4CUSitVag9mS7pSXUesNM0ESnvj/wwehkg="
	if !b.IsBlacklisted(key) {
		t.Fatal("expected key to be blacklisted")
	}
	reason, ok := b.Reason(key)
	if !ok || reason != "Abuse" {
		t.Errorf("expected reason 'Abuse', got %q (ok=%v)", reason, ok)
	}
	if b.IsBlacklisted("some-other-key") {
		t.Error("expected unrelated key to not be blacklisted")
	}
}

func TestBlacklist_ListFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blacklist.yaml")
	content := "- keyA\n- keyB: {reason: spam}\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write blacklist: %v", err)
	}

	b, err := New(path, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer b.Stop()

	if !b.IsBlacklisted("keyA") {
		t.Error("expected keyA to be blacklisted")
	}
	if reason, _ := b.Reason("keyB"); reason != "spam" {
		t.Errorf("expected reason 'spam' for keyB, got %q", reason)
	}
}

func TestBlacklist_MissingFile(t *testing.T) {
	b, err := New(filepath.Join(t.TempDir(), "missing.yaml"), false)
	if err != nil {
		t.Fatalf("unexpected error for missing file: %v", err)
	}
	defer b.Stop()
	if b.IsBlacklisted("anything") {
		t.Error("expected empty blacklist when file is missing")
	}
}

func TestBlacklist_WatchReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blacklist.yaml")
	if err := os.WriteFile(path, []byte("keyA: first\n"), 0o644); err != nil {
		t.Fatalf("write blacklist: %v", err)
	}

	b, err := New(path, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer b.Stop()

	if err := os.WriteFile(path, []byte("keyB: second\n"), 0o644); err != nil {
		t.Fatalf("rewrite blacklist: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if b.IsBlacklisted("keyB") {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("watch did not pick up blacklist change in time")
}
