package bdb_test

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/halcyonsuite/halwallet/walletdb"
	_ "github.com/halcyonsuite/halwallet/walletdb/bdb"
)

var bucketKey = []byte("testbucket")

func setupDB(t *testing.T) walletdb.DB {
	t.Helper()

	db, err := walletdb.Create("bdb", filepath.Join(t.TempDir(), "db"))
	if err != nil {
		t.Fatalf("failed to create database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	err = walletdb.Update(db, func(tx walletdb.ReadWriteTx) error {
		_, err := tx.CreateTopLevelBucket(bucketKey)
		return err
	})
	if err != nil {
		t.Fatalf("failed to create bucket: %v", err)
	}

	return db
}

func TestCreateOpenFail(t *testing.T) {
	// Invalid arguments.
	if _, err := walletdb.Create("bdb"); err != walletdb.ErrInvalid {
		t.Errorf("wrong error on short args, got: %v", err)
	}
	if _, err := walletdb.Create("bdb", 42); err != walletdb.ErrInvalid {
		t.Errorf("wrong error on bad arg type, got: %v", err)
	}

	// Opening a database that does not exist.
	missing := filepath.Join(t.TempDir(), "missing")
	if _, err := walletdb.Open("bdb", missing); err != walletdb.ErrDbDoesNotExist {
		t.Errorf("wrong error on missing db, got: %v", err)
	}
}

func TestPutGetDelete(t *testing.T) {
	db := setupDB(t)

	key, value := []byte("somekey"), []byte("somevalue")

	err := walletdb.Update(db, func(tx walletdb.ReadWriteTx) error {
		return tx.ReadWriteBucket(bucketKey).Put(key, value)
	})
	if err != nil {
		t.Fatalf("put failed: %v", err)
	}

	err = walletdb.View(db, func(tx walletdb.ReadTx) error {
		got := tx.ReadBucket(bucketKey).Get(key)
		if !bytes.Equal(got, value) {
			t.Errorf("get mismatch, got: %x, want: %x", got, value)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("view failed: %v", err)
	}

	err = walletdb.Update(db, func(tx walletdb.ReadWriteTx) error {
		return tx.ReadWriteBucket(bucketKey).Delete(key)
	})
	if err != nil {
		t.Fatalf("delete failed: %v", err)
	}

	// Deleting a key that does not exist is not an error.
	err = walletdb.Update(db, func(tx walletdb.ReadWriteTx) error {
		return tx.ReadWriteBucket(bucketKey).Delete([]byte("missing"))
	})
	if err != nil {
		t.Fatalf("delete of missing key failed: %v", err)
	}

	walletdb.View(db, func(tx walletdb.ReadTx) error {
		if got := tx.ReadBucket(bucketKey).Get(key); got != nil {
			t.Errorf("expected nil after delete, got: %x", got)
		}
		return nil
	})
}

func TestCursorSeekPrefix(t *testing.T) {
	db := setupDB(t)

	// Ordered keys with two distinct prefixes.
	entries := map[string]string{
		"\x01aaa": "1",
		"\x01bbb": "2",
		"\x02aaa": "3",
		"\x02ccc": "4",
		"\x03zzz": "5",
	}
	err := walletdb.Update(db, func(tx walletdb.ReadWriteTx) error {
		bucket := tx.ReadWriteBucket(bucketKey)
		for k, v := range entries {
			if err := bucket.Put([]byte(k), []byte(v)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("populate failed: %v", err)
	}

	prefix := []byte{0x02}
	var got []string
	walletdb.View(db, func(tx walletdb.ReadTx) error {
		c := tx.ReadBucket(bucketKey).ReadCursor()
		for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
			got = append(got, string(k))
		}
		return nil
	})

	want := []string{"\x02aaa", "\x02ccc"}
	if len(got) != len(want) {
		t.Fatalf("wrong range size, got: %d, want: %d", len(got),
			len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("wrong key at %d, got: %x, want: %x", i,
				got[i], want[i])
		}
	}
}

func TestRollback(t *testing.T) {
	db := setupDB(t)

	tx, err := db.BeginReadWriteTx()
	if err != nil {
		t.Fatalf("begin failed: %v", err)
	}
	if err := tx.ReadWriteBucket(bucketKey).Put([]byte("k"), []byte("v")); err != nil {
		t.Fatalf("put failed: %v", err)
	}
	if err := tx.Rollback(); err != nil {
		t.Fatalf("rollback failed: %v", err)
	}

	walletdb.View(db, func(tx walletdb.ReadTx) error {
		if got := tx.ReadBucket(bucketKey).Get([]byte("k")); got != nil {
			t.Errorf("rolled back write is visible: %x", got)
		}
		return nil
	})
}
