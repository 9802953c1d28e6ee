package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/brickhouse-io/flatkv/kverrors"
)

func kverrorsIsKeyExists(err error) bool   { return kverrors.Is(err, kverrors.CodeKeyExists) }
func kverrorsIsKeyNotFound(err error) bool { return kverrors.Is(err, kverrors.CodeKeyNotFound) }

func openNewDB(t *testing.T) *Handle {
	t.Helper()
	path := filepath.Join(t.TempDir(), "testdb")
	opts := DefaultOpenOptions(path)
	opts.Create = true
	db, err := Open(opts)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpenCreateWritesEmptyDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "testdb")
	opts := DefaultOpenOptions(path)
	opts.Create = true
	db, err := Open(opts)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	info, err := os.Stat(path + ".idx")
	if err != nil {
		t.Fatal(err)
	}
	want := int64(opts.HashSize+1)*7 + 1
	if info.Size() != want {
		t.Errorf("empty index file size = %d, want %d", info.Size(), want)
	}
	datInfo, err := os.Stat(path + ".dat")
	if err != nil {
		t.Fatal(err)
	}
	if datInfo.Size() != 0 {
		t.Errorf("empty data file size = %d, want 0", datInfo.Size())
	}
}

func TestStoreInsertThenFetch(t *testing.T) {
	db := openNewDB(t)
	if err := db.Store("k1", "v1", ModeInsert); err != nil {
		t.Fatal(err)
	}
	got, err := db.Fetch("k1")
	if err != nil {
		t.Fatal(err)
	}
	if got != "v1" {
		t.Errorf("Fetch = %q, want %q", got, "v1")
	}
}

func TestStoreInsertDuplicateFails(t *testing.T) {
	db := openNewDB(t)
	if err := db.Store("k1", "v1", ModeInsert); err != nil {
		t.Fatal(err)
	}
	err := db.Store("k1", "v2", ModeInsert)
	if !kverrorsIsKeyExists(err) {
		t.Fatalf("second insert of same key: err = %v, want key-exists", err)
	}
}

func TestStoreReplaceMissingKeyFails(t *testing.T) {
	db := openNewDB(t)
	err := db.Store("nope", "v", ModeReplace)
	if !kverrorsIsKeyNotFound(err) {
		t.Fatalf("replace of missing key: err = %v, want key-not-found", err)
	}
}

func TestStoreReplaceSameLengthOverwritesInPlace(t *testing.T) {
	db := openNewDB(t)
	if err := db.Store("k1", "aaa", ModeInsert); err != nil {
		t.Fatal(err)
	}
	if err := db.Store("k1", "bbb", ModeReplace); err != nil {
		t.Fatal(err)
	}
	got, err := db.Fetch("k1")
	if err != nil {
		t.Fatal(err)
	}
	if got != "bbb" {
		t.Errorf("Fetch after same-length replace = %q, want %q", got, "bbb")
	}
	if db.Stats().Stor4 != 1 {
		t.Errorf("Stor4 = %d, want 1 (same-length in-place overwrite)", db.Stats().Stor4)
	}
}

func TestStoreReplaceDifferentLengthReappends(t *testing.T) {
	db := openNewDB(t)
	if err := db.Store("k1", "short", ModeInsert); err != nil {
		t.Fatal(err)
	}
	if err := db.Store("k1", "a much longer value", ModeReplace); err != nil {
		t.Fatal(err)
	}
	got, err := db.Fetch("k1")
	if err != nil {
		t.Fatal(err)
	}
	if got != "a much longer value" {
		t.Errorf("Fetch after different-length replace = %q", got)
	}
	if db.Stats().Stor3 != 1 {
		t.Errorf("Stor3 = %d, want 1 (delete-then-append replace)", db.Stats().Stor3)
	}
}

func TestStoreUpsertInsertsOrReplaces(t *testing.T) {
	db := openNewDB(t)
	if err := db.Store("k1", "v1", ModeUpsert); err != nil {
		t.Fatal(err)
	}
	if err := db.Store("k1", "v2", ModeUpsert); err != nil {
		t.Fatal(err)
	}
	got, err := db.Fetch("k1")
	if err != nil {
		t.Fatal(err)
	}
	if got != "v2" {
		t.Errorf("Fetch after upsert-replace = %q, want %q", got, "v2")
	}
}

func TestFetchMissingKeyFails(t *testing.T) {
	db := openNewDB(t)
	_, err := db.Fetch("nope")
	if !kverrorsIsKeyNotFound(err) {
		t.Fatalf("Fetch of missing key: err = %v, want key-not-found", err)
	}
}

func TestDeleteThenFetchFails(t *testing.T) {
	db := openNewDB(t)
	if err := db.Store("k1", "v1", ModeInsert); err != nil {
		t.Fatal(err)
	}
	if err := db.Delete("k1"); err != nil {
		t.Fatal(err)
	}
	if _, err := db.Fetch("k1"); !kverrorsIsKeyNotFound(err) {
		t.Fatalf("Fetch after delete: err = %v, want key-not-found", err)
	}
}

func TestDeleteMissingKeyFails(t *testing.T) {
	db := openNewDB(t)
	err := db.Delete("nope")
	if !kverrorsIsKeyNotFound(err) {
		t.Fatalf("Delete of missing key: err = %v, want key-not-found", err)
	}
}

func TestDeletedSlotIsReusedByLaterInsert(t *testing.T) {
	db := openNewDB(t)
	if err := db.Store("aa", "xy", ModeInsert); err != nil {
		t.Fatal(err)
	}
	if err := db.Delete("aa"); err != nil {
		t.Fatal(err)
	}
	// Same key length (2) and same value length (2) as the deleted
	// slot: the free list should satisfy this from reuse, not append.
	if err := db.Store("bb", "zz", ModeInsert); err != nil {
		t.Fatal(err)
	}
	if db.Stats().Stor2 != 1 {
		t.Errorf("Stor2 = %d, want 1 (free-list reuse)", db.Stats().Stor2)
	}
	got, err := db.Fetch("bb")
	if err != nil {
		t.Fatal(err)
	}
	if got != "zz" {
		t.Errorf("Fetch(bb) = %q, want %q", got, "zz")
	}
}

func TestRewindAndNextEnumeratesAllLiveRecords(t *testing.T) {
	db := openNewDB(t)
	want := map[string]string{"k1": "v1", "k2": "v2", "k3": "v3"}
	for k, v := range want {
		if err := db.Store(k, v, ModeInsert); err != nil {
			t.Fatal(err)
		}
	}
	if err := db.Delete("k2"); err != nil {
		t.Fatal(err)
	}
	delete(want, "k2")

	db.Rewind()
	got := map[string]string{}
	for {
		k, v, ok, err := db.Next()
		if err != nil {
			t.Fatal(err)
		}
		if !ok {
			break
		}
		got[k] = v
	}
	if len(got) != len(want) {
		t.Fatalf("Next enumerated %d records, want %d (%v)", len(got), len(want), got)
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("Next enumeration missing/wrong value for %q: got %q, want %q", k, got[k], v)
		}
	}
}

func TestVacuumPreservesLiveRecordsAndDropsTombstones(t *testing.T) {
	db := openNewDB(t)
	if err := db.Store("k1", "v1", ModeInsert); err != nil {
		t.Fatal(err)
	}
	if err := db.Store("k2", "v2", ModeInsert); err != nil {
		t.Fatal(err)
	}
	if err := db.Delete("k1"); err != nil {
		t.Fatal(err)
	}

	if err := db.Vacuum(); err != nil {
		t.Fatal(err)
	}

	got, err := db.Fetch("k2")
	if err != nil {
		t.Fatal(err)
	}
	if got != "v2" {
		t.Errorf("Fetch(k2) after vacuum = %q, want %q", got, "v2")
	}
	if _, err := db.Fetch("k1"); !kverrorsIsKeyNotFound(err) {
		t.Errorf("Fetch(k1) after vacuum: err = %v, want key-not-found", err)
	}

	// The rebuilt index holds the directory plus k2's record only; the
	// freed k1 slot is gone.
	info, err := os.Stat(db.path + ".idx")
	if err != nil {
		t.Fatal(err)
	}
	wantSize := db.recordRegionStart + int64(7+4+len("k2:0:3\n"))
	if info.Size() != wantSize {
		t.Errorf("index file size after vacuum = %d, want %d", info.Size(), wantSize)
	}
}

func TestStoreRejectsInvalidKey(t *testing.T) {
	db := openNewDB(t)
	if err := db.Store("bad:key", "v", ModeInsert); err == nil {
		t.Error("expected error storing a key containing ':'")
	}
	if err := db.Store("bad\nkey", "v", ModeInsert); err == nil {
		t.Error("expected error storing a key containing newline")
	}
}

func TestStoreRejectsEmptyKey(t *testing.T) {
	db := openNewDB(t)
	err := db.Store("", "v", ModeInsert)
	if !kverrors.Is(err, kverrors.CodeInvalidKey) {
		t.Fatalf("Store with empty key: err = %v, want invalid-key", err)
	}
}

func openReadOnlyDB(t *testing.T, path string) *Handle {
	t.Helper()
	opts := DefaultOpenOptions(path)
	opts.ReadOnly = true
	db, err := Open(opts)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestReadOnlyHandleRejectsMutations(t *testing.T) {
	path := filepath.Join(t.TempDir(), "testdb")
	opts := DefaultOpenOptions(path)
	opts.Create = true
	seed, err := Open(opts)
	if err != nil {
		t.Fatal(err)
	}
	if err := seed.Store("k1", "v1", ModeInsert); err != nil {
		t.Fatal(err)
	}
	seed.Close()

	db := openReadOnlyDB(t, path)
	if err := db.Store("k2", "v2", ModeInsert); !kverrorsIsReadOnly(err) {
		t.Errorf("Store on read-only handle: err = %v, want read-only", err)
	}
	if err := db.Delete("k1"); !kverrorsIsReadOnly(err) {
		t.Errorf("Delete on read-only handle: err = %v, want read-only", err)
	}
	if err := db.Vacuum(); !kverrorsIsReadOnly(err) {
		t.Errorf("Vacuum on read-only handle: err = %v, want read-only", err)
	}

	// Reads still work.
	got, err := db.Fetch("k1")
	if err != nil {
		t.Fatal(err)
	}
	if got != "v1" {
		t.Errorf("Fetch(k1) on read-only handle = %q, want %q", got, "v1")
	}
}

func kverrorsIsReadOnly(err error) bool { return kverrors.Is(err, kverrors.CodeReadOnly) }
