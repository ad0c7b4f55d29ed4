package sealfs

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	ufs "github.com/jeffh/u9p/fs"
	"github.com/jeffh/u9p/ninep"
)

func newSealed(t *testing.T) (*ufs.Mem, ufs.FileSystem, Key) {
	t.Helper()
	key, err := NewKey()
	if err != nil {
		t.Fatal(err)
	}
	mem := ufs.NewMem()
	fsys, err := New(mem, key)
	if err != nil {
		t.Fatal(err)
	}
	return mem, fsys, key
}

func rawContents(t *testing.T, mem *ufs.Mem, path string) []byte {
	t.Helper()
	h, err := mem.OpenFile(context.Background(), path, os.O_RDONLY)
	if err != nil {
		t.Fatal(err)
	}
	defer h.Close()
	info, _ := mem.Stat(context.Background(), path)
	b, err := io.ReadAll(io.NewSectionReader(h, 0, info.Size()))
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func TestRoundTrip(t *testing.T) {
	ctx := context.Background()
	mem, sealed, _ := newSealed(t)
	fsys := ufs.FS(sealed)
	plaintext := bytes.Repeat([]byte("attack at dawn. "), 10000)

	if _, _, _, err := fsys.Create(ctx, "", "d", ninep.M_DIR|0755, ninep.OREAD, ""); err != nil {
		t.Fatal(err)
	}
	_, _, h, err := fsys.Create(ctx, "d", "secret", 0600, ninep.ORDWR, "")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := h.WriteAt(plaintext, 0); err != nil {
		t.Fatal(err)
	}
	if err := h.Close(); err != nil {
		t.Fatal(err)
	}

	raw := rawContents(t, mem, "d/secret")
	if bytes.Contains(raw, []byte("attack at dawn")) {
		t.Errorf("plaintext was stored in the clear")
	}
	if len(raw) <= len(plaintext) {
		t.Errorf("expected overhead, got %d bytes for %d", len(raw), len(plaintext))
	}

	info, err := fsys.Stat(ctx, "d/secret")
	if err != nil {
		t.Fatal(err)
	}
	if info.Size() != int64(len(plaintext)) {
		t.Errorf("expected the plaintext size %d, got %d", len(plaintext), info.Size())
	}
	if _, ok := info.Sys().(ninep.FileInfoPath); !ok {
		t.Errorf("expected the stored info through Sys")
	}
	for info, err := range fsys.ListDir(ctx, "d") {
		if err != nil {
			t.Fatal(err)
		}
		if info.Size() != int64(len(plaintext)) {
			t.Errorf("listing: expected size %d, got %d", len(plaintext), info.Size())
		}
	}

	h, err = fsys.Open(ctx, "d/secret", ninep.OREAD)
	if err != nil {
		t.Fatal(err)
	}
	defer h.Close()
	got, err := io.ReadAll(io.NewSectionReader(h, 0, info.Size()))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Errorf("decrypted contents differ")
	}
	if _, err := h.WriteAt([]byte("x"), 0); !errors.Is(err, ninep.ErrWriteNotAllowed) {
		t.Errorf("expected ErrWriteNotAllowed, got %v", err)
	}
}

func TestEmptyAndPartialWrites(t *testing.T) {
	ctx := context.Background()
	mem, sealed, _ := newSealed(t)
	fsys := ufs.FS(sealed)

	_, info, h, err := fsys.Create(ctx, "", "f", 0644, ninep.ORDWR, "")
	if err != nil {
		t.Fatal(err)
	}
	h.Close()
	if info.Size() != 0 {
		t.Errorf("expected an empty file, got %d", info.Size())
	}
	if raw := rawContents(t, mem, "f"); len(raw) == 0 {
		t.Errorf("expected a header for an empty file")
	}

	// files created outside of the sealed view start out empty
	if err := ufs.Populate(ctx, mem, map[string]string{"blank": ""}); err != nil {
		t.Fatal(err)
	}
	if info, err := fsys.Stat(ctx, "blank"); err != nil || info.Size() != 0 {
		t.Errorf("blank: %v %v", info, err)
	}

	h, _ = fsys.Open(ctx, "f", ninep.OWRITE)
	h.WriteAt([]byte("hello world"), 0)
	h.Close()
	h, _ = fsys.Open(ctx, "f", ninep.OWRITE)
	h.WriteAt([]byte("WORLD"), 6)
	h.Close()
	h, _ = fsys.Open(ctx, "f", ninep.OREAD)
	buf := make([]byte, 32)
	n, _ := h.ReadAt(buf, 0)
	h.Close()
	if string(buf[:n]) != "hello WORLD" {
		t.Errorf("unexpected contents %q", buf[:n])
	}

	h, _ = fsys.Open(ctx, "f", ninep.OWRITE|ninep.OTRUNC)
	h.Close()
	if info, _ := fsys.Stat(ctx, "f"); info.Size() != 0 {
		t.Errorf("expected truncation, got %d", info.Size())
	}
}

func TestWrongKey(t *testing.T) {
	ctx := context.Background()
	mem, sealed, _ := newSealed(t)
	if err := ufs.Populate(ctx, sealed, map[string]string{"f": "secret"}); err != nil {
		t.Fatal(err)
	}
	other, _ := NewKey()
	wrong, err := New(mem, other)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := wrong.OpenFile(ctx, "f", os.O_RDONLY); !errors.Is(err, ErrCorrupt) {
		t.Errorf("expected ErrCorrupt, got %v", err)
	}

	// tampering with the stored bytes fails authentication
	raw := rawContents(t, mem, "f")
	raw[len(raw)-1] ^= 0xff
	h, _ := mem.OpenFile(ctx, "f", os.O_WRONLY)
	h.WriteAt(raw, 0)
	h.Close()
	if _, err := sealed.OpenFile(ctx, "f", os.O_RDONLY); !errors.Is(err, ErrCorrupt) {
		t.Errorf("expected ErrCorrupt after tampering, got %v", err)
	}
}

func TestWriteStat(t *testing.T) {
	ctx := context.Background()
	_, sealed, _ := newSealed(t)
	if err := ufs.Populate(ctx, sealed, map[string]string{"f": "0123456789"}); err != nil {
		t.Fatal(err)
	}
	fsys := ufs.FS(sealed)

	st := ninep.SyncStatWithName("g")
	st.SetLength(4)
	if err := fsys.WriteStat(ctx, "f", st); err != nil {
		t.Fatalf("wstat: %s", err)
	}
	if _, err := fsys.Stat(ctx, "f"); err == nil {
		t.Errorf("expected f to be renamed")
	}
	h, err := fsys.Open(ctx, "g", ninep.OREAD)
	if err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, 10)
	n, _ := h.ReadAt(buf, 0)
	h.Close()
	if string(buf[:n]) != "0123" {
		t.Errorf("unexpected contents %q", buf[:n])
	}

	st = ninep.SyncStat()
	st.SetLength(6)
	if err := fsys.WriteStat(ctx, "g", st); err != nil {
		t.Fatal(err)
	}
	if info, _ := fsys.Stat(ctx, "g"); info.Size() != 6 {
		t.Errorf("expected growth to 6, got %d", info.Size())
	}
	if err := fsys.WriteStat(ctx, "g", ninep.SyncStat()); err != nil {
		t.Errorf("sync: %s", err)
	}
}

func TestKeyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "key")
	k, err := GenerateKey(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := GenerateKey(path); !errors.Is(err, os.ErrExist) {
		t.Errorf("expected an existing key to be kept, got %v", err)
	}
	loaded, err := LoadKey(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded != k {
		t.Errorf("loaded a different key")
	}
	if info, _ := os.Stat(path); info.Mode().Perm() != 0600 {
		t.Errorf("expected 0600, got %s", info.Mode())
	}

	short := filepath.Join(t.TempDir(), "short")
	os.WriteFile(short, []byte("too short"), 0600)
	if _, err := LoadKey(short); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("expected ErrInvalidKey, got %v", err)
	}
}
