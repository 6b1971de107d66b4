package storage

import (
	"testing"
	"time"
)

func TestMemory_InsertAutogeneratesKey(t *testing.T) {
	m := NewMemory(nil)
	key, err := m.Insert("", []byte("value"))
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if key == "" {
		t.Fatal("Insert returned empty key")
	}
	got, err := m.Get(key)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != "value" {
		t.Fatalf("Get = %s, want value", got)
	}
}

func TestMemory_GetMissing(t *testing.T) {
	m := NewMemory(nil)
	if _, err := m.Get("missing"); err != ErrNotFound {
		t.Fatalf("Get(missing) = %v, want ErrNotFound", err)
	}
}

func TestMemory_UpdateMissing(t *testing.T) {
	m := NewMemory(nil)
	if err := m.Update("missing", []byte("x")); err != ErrNotFound {
		t.Fatalf("Update(missing) = %v, want ErrNotFound", err)
	}
}

func TestMemory_DeleteMissing(t *testing.T) {
	m := NewMemory(nil)
	if err := m.Delete("missing"); err != ErrNotFound {
		t.Fatalf("Delete(missing) = %v, want ErrNotFound", err)
	}
}

func TestMemory_ExpiringEntryDisappears(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := now
	m := NewMemory(func() time.Time { return clock })

	if _, err := m.InsertExpiring("k", []byte("v"), now.Add(time.Minute)); err != nil {
		t.Fatalf("InsertExpiring: %v", err)
	}

	clock = now.Add(30 * time.Second)
	if _, err := m.Get("k"); err != nil {
		t.Fatalf("Get before expiry: %v", err)
	}

	clock = now.Add(2 * time.Minute)
	if _, err := m.Get("k"); err != ErrNotFound {
		t.Fatalf("Get after expiry = %v, want ErrNotFound", err)
	}
}

func TestMemory_EnumerateExcludesExpired(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := now
	m := NewMemory(func() time.Time { return clock })

	if _, err := m.Insert("fresh", []byte("a")); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if _, err := m.InsertExpiring("stale", []byte("b"), now.Add(time.Minute)); err != nil {
		t.Fatalf("InsertExpiring: %v", err)
	}

	clock = now.Add(2 * time.Minute)
	rows, err := m.Enumerate()
	if err != nil {
		t.Fatalf("Enumerate: %v", err)
	}
	if _, ok := rows["fresh"]; !ok {
		t.Fatal("Enumerate dropped non-expiring entry")
	}
	if _, ok := rows["stale"]; ok {
		t.Fatal("Enumerate kept an expired entry")
	}
}

func TestMemory_InsertExplicitKeyThenUpdate(t *testing.T) {
	m := NewMemory(nil)
	if _, err := m.Insert("fixed", []byte("one")); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := m.Update("fixed", []byte("two")); err != nil {
		t.Fatalf("Update: %v", err)
	}
	got, err := m.Get("fixed")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != "two" {
		t.Fatalf("Get = %s, want two", got)
	}
}
