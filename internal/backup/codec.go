package backup

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"io"

	"filippo.io/age"
	"github.com/klauspost/compress/zstd"
	"github.com/zeebo/blake3"

	"github.com/starford/guardian/internal/apperr"
)

// MaxPayloadSize bounds the decompressed capsule list of one artifact.
const MaxPayloadSize = 128 << 20

// maxWindowSize bounds the zstd window a payload may declare. Payloads are
// written with the default 8 MiB window.
const maxWindowSize = 32 << 20

// zstd.Encoder is safe for concurrent use.
var zstdEncoder *zstd.Encoder

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("backup: zstd encoder initialization failed: " + err.Error())
	}
}

func compress(data []byte) []byte {
	return zstdEncoder.EncodeAll(data, nil)
}

// decompress streams the payload through a fresh decoder and stops reading
// once more than limit bytes are produced.
func decompress(data []byte, limit int64) ([]byte, error) {
	dec, err := zstd.NewReader(bytes.NewReader(data),
		zstd.WithDecoderConcurrency(1),
		zstd.WithDecoderMaxWindow(maxWindowSize),
	)
	if err != nil {
		return nil, fmt.Errorf("zstd decompress: %w", err)
	}
	defer dec.Close()

	out, err := io.ReadAll(io.LimitReader(dec, limit+1))
	if err != nil {
		return nil, fmt.Errorf("zstd decompress: %w", err)
	}
	if int64(len(out)) > limit {
		return nil, fmt.Errorf("%w: payload expands beyond %d bytes", apperr.ErrIntegrity, limit)
	}
	return out, nil
}

func contentChecksum(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// GenerateKeypair returns a new age X25519 identity (AGE-SECRET-KEY-1...)
// and its public recipient (age1...).
func GenerateKeypair() (identity, recipient string, err error) {
	id, err := age.GenerateX25519Identity()
	if err != nil {
		return "", "", fmt.Errorf("backup: generate keypair: %w", err)
	}
	return id.String(), id.Recipient().String(), nil
}

func encrypt(plaintext []byte, recipientKey string) ([]byte, error) {
	recipient, err := age.ParseX25519Recipient(recipientKey)
	if err != nil {
		return nil, fmt.Errorf("parse recipient: %w", err)
	}
	var buf bytes.Buffer
	w, err := age.Encrypt(&buf, recipient)
	if err != nil {
		return nil, fmt.Errorf("create age encryptor: %w", err)
	}
	if _, err := w.Write(plaintext); err != nil {
		return nil, fmt.Errorf("write to age encryptor: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("finalize age encryption: %w", err)
	}
	return buf.Bytes(), nil
}

func decrypt(ciphertext []byte, identityKey string) ([]byte, error) {
	identity, err := age.ParseX25519Identity(identityKey)
	if err != nil {
		return nil, fmt.Errorf("parse decryption key: %w", err)
	}
	r, err := age.Decrypt(bytes.NewReader(ciphertext), identity)
	if err != nil {
		return nil, fmt.Errorf("decrypt: %w", err)
	}
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read decrypted payload: %w", err)
	}
	return out, nil
}
