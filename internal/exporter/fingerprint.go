package exporter

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/crypto/blake2b"
)

// Fingerprint returns the BLAKE2b-256 digest of a file in hex. Digests
// let CI assert that a rerun with the same seeds reproduced the same
// artifacts byte for byte.
func Fingerprint(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer file.Close()

	hasher, err := blake2b.New256(nil)
	if err != nil {
		return "", fmt.Errorf("failed to create hasher: %w", err)
	}
	if _, err := io.Copy(hasher, file); err != nil {
		return "", fmt.Errorf("failed to hash %s: %w", path, err)
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// WriteManifest writes a digest line per artifact to the named file.
// Each line is "<hex digest>  <base name>", matching the common checksum
// tool format.
func (e *Exporter) WriteManifest(name string, artifacts []string) error {
	path := e.Path(name)
	if err := ensureDir(path); err != nil {
		return err
	}
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create manifest: %w", err)
	}
	defer file.Close()

	for _, artifact := range artifacts {
		digest, err := Fingerprint(artifact)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(file, "%s  %s\n", digest, filepath.Base(artifact)); err != nil {
			return fmt.Errorf("failed to write manifest line: %w", err)
		}
	}

	e.logger.Info("wrote artifact manifest", "path", path, "artifacts", len(artifacts))
	return nil
}
