package sealfs

import (
	"bytes"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/secure-io/sio-go"
	"golang.org/x/crypto/chacha20poly1305"
)

var (
	ErrInvalidKey = errors.New("invalid key")
	ErrCorrupt    = errors.New("sealed file is corrupt or was encrypted with another key")
)

const formatVersion = '1'

// Key is the master key every file is sealed with.
type Key [chacha20poly1305.KeySize]byte

func NewKey() (Key, error) {
	var k Key
	_, err := rand.Read(k[:])
	return k, err
}

// GenerateKey writes a new key to path, refusing to replace an existing one.
func GenerateKey(path string) (Key, error) {
	k, err := NewKey()
	if err != nil {
		return k, err
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return k, err
	}
	_, err = f.Write(k[:])
	return k, errors.Join(err, f.Close())
}

func LoadKey(path string) (Key, error) {
	var k Key
	buf, err := os.ReadFile(path)
	if err != nil {
		return k, err
	}
	if len(buf) != len(k) {
		return k, fmt.Errorf("%w: %s is %d bytes, expected %d", ErrInvalidKey, path, len(buf), len(k))
	}
	copy(k[:], buf)
	return k, nil
}

// sealer encrypts whole files. A sealed file is a header followed by the sio
// stream of the contents:
//
//	version[1] nonce[NonceSize] size[8]
//
// The header is the associated data of the stream so the recorded size is
// authenticated too.
type sealer struct {
	stream *sio.Stream
}

func newSealer(k Key) (*sealer, error) {
	stream, err := sio.XChaCha20Poly1305.Stream(k[:])
	if err != nil {
		return nil, err
	}
	return &sealer{stream}, nil
}

func (s *sealer) headerSize() int { return 1 + s.stream.NonceSize() + 8 }

func (s *sealer) seal(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, s.stream.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	hdr := make([]byte, 0, s.headerSize())
	hdr = append(hdr, formatVersion)
	hdr = append(hdr, nonce...)
	hdr = binary.BigEndian.AppendUint64(hdr, uint64(len(plaintext)))

	var buf bytes.Buffer
	buf.Write(hdr)
	w := s.stream.EncryptWriter(&buf, nonce, hdr)
	if _, err := w.Write(plaintext); err != nil {
		w.Close()
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// size reads the plaintext size out of a header. An empty file is an empty
// plaintext.
func (s *sealer) size(hdr []byte) (int64, error) {
	if len(hdr) == 0 {
		return 0, nil
	}
	if len(hdr) < s.headerSize() || hdr[0] != formatVersion {
		return 0, ErrCorrupt
	}
	return int64(binary.BigEndian.Uint64(hdr[1+s.stream.NonceSize():])), nil
}

func (s *sealer) open(sealed []byte) ([]byte, error) {
	size, err := s.size(sealed)
	if err != nil || len(sealed) == 0 {
		return nil, err
	}
	hdr := sealed[:s.headerSize()]
	nonce := hdr[1 : 1+s.stream.NonceSize()]
	r := s.stream.DecryptReader(bytes.NewReader(sealed[len(hdr):]), nonce, hdr)
	plaintext, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	if int64(len(plaintext)) != size {
		return nil, ErrCorrupt
	}
	return plaintext, nil
}
