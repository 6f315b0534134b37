// Package backup reads and writes capsule backup artifacts.
//
// An artifact is a CBOR envelope holding a manifest and a payload. The
// payload is the CBOR-encoded capsule list compressed with zstd and, when a
// recipient is supplied at write time, encrypted with age to an X25519
// recipient. The manifest is never encrypted, so an artifact can be
// cataloged and structurally verified without its key. The manifest
// checksum is the BLAKE3 digest of the uncompressed capsule list.
package backup
