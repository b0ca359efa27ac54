// Package archive reads and writes .edenite archives: a length-prefixed
// JSON metadata header followed by a zstd-compressed tar of app files.
// Readers re-hash the compressed block and reject on checksum mismatch;
// extraction rejects any tar entry that would escape the destination.
package archive

import (
	"archive/tar"
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/edenite/eden-host/internal/edenerr"
	"github.com/edenite/eden-host/internal/manifest"
)

const metaVersion = 1

// Extension is the only file extension an .edenite archive carries.
const Extension = ".edenite"

// Metadata is the archive header's JSON payload.
type Metadata struct {
	Version  uint32             `json:"version"`
	Checksum string             `json:"checksum"`
	Created  string             `json:"created"`
	Manifest *manifest.Manifest `json:"manifest"`
}

// Build writes an .edenite archive for the app directory dir to w, using
// zstd compression level level (1..22, clamped). dir must contain a valid
// manifest.json at its root.
func Build(dir string, w io.Writer, level int) (*Metadata, error) {
	m, err := loadManifest(dir)
	if err != nil {
		return nil, err
	}
	if err := m.Validate(); err != nil {
		return nil, edenerr.Wrap(edenerr.BadFormat, err, "invalid manifest")
	}

	compressed, err := compressTar(dir, level)
	if err != nil {
		return nil, err
	}

	sum := sha256.Sum256(compressed)
	meta := &Metadata{
		Version:  metaVersion,
		Checksum: hex.EncodeToString(sum[:]),
		Created:  time.Now().UTC().Format(time.RFC3339),
		Manifest: m,
	}

	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("marshaling archive metadata: %w", err)
	}

	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(metaJSON)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return nil, fmt.Errorf("writing archive header length: %w", err)
	}
	if _, err := w.Write(metaJSON); err != nil {
		return nil, fmt.Errorf("writing archive metadata: %w", err)
	}
	if _, err := w.Write(compressed); err != nil {
		return nil, fmt.Errorf("writing archive payload: %w", err)
	}
	return meta, nil
}

// ReadMetadata reads and parses only the header of an .edenite archive,
// without verifying the checksum or extracting any files.
func ReadMetadata(r io.Reader) (*Metadata, error) {
	meta, _, err := readHeader(r)
	return meta, err
}

// Extract verifies an .edenite archive's checksum (unless verify is false)
// and extracts its files under destDir. destDir is created if absent.
func Extract(r io.Reader, destDir string, verify bool) (*Metadata, error) {
	meta, rest, err := readHeader(r)
	if err != nil {
		return nil, err
	}

	compressed, err := io.ReadAll(rest)
	if err != nil {
		return nil, fmt.Errorf("reading archive payload: %w", err)
	}

	if verify {
		sum := sha256.Sum256(compressed)
		if hex.EncodeToString(sum[:]) != meta.Checksum {
			return nil, edenerr.New(edenerr.Corrupt, "archive checksum mismatch")
		}
	}

	zr, err := zstd.NewReader(bytes.NewReader(compressed), zstd.IgnoreChecksum(!verify))
	if err != nil {
		return nil, edenerr.Wrap(edenerr.BadFormat, err, "opening zstd stream")
	}
	defer zr.Close()

	if err := extractTar(zr, destDir); err != nil {
		return nil, err
	}
	return meta, nil
}

func readHeader(r io.Reader) (*Metadata, io.Reader, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, nil, edenerr.Wrap(edenerr.BadFormat, err, "reading archive header length")
	}
	n := binary.BigEndian.Uint32(lenBuf[:])

	metaJSON := make([]byte, n)
	if _, err := io.ReadFull(r, metaJSON); err != nil {
		return nil, nil, edenerr.Wrap(edenerr.BadFormat, err, "reading archive metadata")
	}

	var meta Metadata
	if err := json.Unmarshal(metaJSON, &meta); err != nil {
		return nil, nil, edenerr.Wrap(edenerr.BadFormat, err, "parsing archive metadata")
	}
	return &meta, r, nil
}

func loadManifest(dir string) (*manifest.Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, "manifest.json"))
	if err != nil {
		return nil, edenerr.Wrap(edenerr.NotFound, err, "reading manifest.json")
	}
	return manifest.Parse(data)
}

func compressTar(dir string, level int) ([]byte, error) {
	var buf bytes.Buffer
	enc, err := zstd.NewWriter(&buf, zstd.WithEncoderLevel(clampLevel(level)))
	if err != nil {
		return nil, fmt.Errorf("opening zstd writer: %w", err)
	}

	tw := tar.NewWriter(enc)
	walkErr := filepath.Walk(dir, func(path string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)

		hdr, err := tar.FileInfoHeader(fi, "")
		if err != nil {
			return err
		}
		hdr.Name = rel
		if fi.IsDir() {
			hdr.Name += "/"
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if fi.IsDir() {
			return nil
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(tw, f)
		return err
	})
	if walkErr != nil {
		return nil, fmt.Errorf("building archive tar: %w", walkErr)
	}
	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("closing archive tar: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("closing zstd encoder: %w", err)
	}
	return buf.Bytes(), nil
}

func extractTar(r io.Reader, destDir string) error {
	if err := os.MkdirAll(destDir, 0750); err != nil {
		return fmt.Errorf("creating destination directory: %w", err)
	}

	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return edenerr.Wrap(edenerr.BadFormat, err, "reading archive tar")
		}

		target, err := sanitizedPath(destDir, hdr.Name)
		if err != nil {
			return err
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0750); err != nil {
				return fmt.Errorf("creating %s: %w", target, err)
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0750); err != nil {
				return fmt.Errorf("creating %s: %w", filepath.Dir(target), err)
			}
			out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, hdr.FileInfo().Mode().Perm()|0600)
			if err != nil {
				return fmt.Errorf("creating %s: %w", target, err)
			}
			if _, err := io.Copy(out, tr); err != nil {
				out.Close()
				return fmt.Errorf("writing %s: %w", target, err)
			}
			out.Close()
		default:
			// symlinks and other types are not carried across archive boundaries.
			continue
		}
	}
}

// sanitizedPath resolves name against destDir, rejecting any path that
// would escape it (e.g. "../../etc/passwd").
func sanitizedPath(destDir, name string) (string, error) {
	clean := filepath.Clean(name)
	target := filepath.Join(destDir, clean)
	if target != destDir && !strings.HasPrefix(target, destDir+string(os.PathSeparator)) {
		return "", edenerr.New(edenerr.BadFormat, "illegal archive path %q", name)
	}
	return target, nil
}

func clampLevel(level int) zstd.EncoderLevel {
	switch {
	case level <= 0:
		return zstd.SpeedDefault
	case level <= 3:
		return zstd.SpeedFastest
	case level <= 9:
		return zstd.SpeedDefault
	case level <= 15:
		return zstd.SpeedBetterCompression
	default:
		return zstd.SpeedBestCompression
	}
}
