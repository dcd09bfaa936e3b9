package memstore

import (
	"archive/tar"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"

	"github.com/tonk-labs/tonk-sub003/internal/domain/store"
)

// manifestName is the reserved archive entry carrying bundle metadata. It is
// not part of the served filesystem.
const manifestName = "manifest.json"

// FromBytes decodes a bundle payload (gzip'd tar with a manifest.json at the
// root) into a ready Engine. It matches the store.Factory signature.
func FromBytes(data []byte, cfg store.StorageConfig) (store.Store, error) {
	return Decode(data, cfg)
}

// Decode is FromBytes returning the concrete engine type.
func Decode(data []byte, cfg store.StorageConfig) (*Engine, error) {
	files, manifest, err := decodeArchive(data)
	if err != nil {
		return nil, err
	}
	if manifest == nil {
		return nil, errors.New("bundle has no manifest.json")
	}
	if manifest.RootID == "" {
		return nil, errors.New("bundle manifest has no root id")
	}
	return &Engine{
		ns:       cfg.Namespace,
		manifest: *manifest,
		files:    files,
		watches:  newWatchSet(),
	}, nil
}

// PeekManifest decodes only the manifest out of a bundle payload.
func PeekManifest(data []byte) (*store.Manifest, error) {
	_, manifest, err := decodeArchive(data)
	if err != nil {
		return nil, err
	}
	if manifest == nil {
		return nil, errors.New("bundle has no manifest.json")
	}
	return manifest, nil
}

func decodeArchive(data []byte) (map[string]*file, *store.Manifest, error) {
	gz, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, nil, fmt.Errorf("bundle gzip: %w", err)
	}
	defer gz.Close()

	files := make(map[string]*file)
	var manifest *store.Manifest

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("bundle tar: %w", err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		payload, err := io.ReadAll(tr)
		if err != nil {
			return nil, nil, fmt.Errorf("bundle entry %s: %w", hdr.Name, err)
		}

		name := strings.TrimPrefix(hdr.Name, "./")
		if name == manifestName {
			var m store.Manifest
			if err := json.Unmarshal(payload, &m); err != nil {
				return nil, nil, fmt.Errorf("bundle manifest: %w", err)
			}
			manifest = &m
			continue
		}

		entry := &file{}
		if utf8.Valid(payload) {
			entry.content = string(payload)
		} else {
			entry.bytes = payload
		}
		files[normalize(name)] = entry
	}
	return files, manifest, nil
}

// ToBytes serializes the current filesystem and manifest back into the
// bundle wire format.
func (e *Engine) ToBytes() ([]byte, error) {
	return e.encode(e.manifest)
}

// ForkToBytes serializes a detached copy: fresh root id, no network URIs, so
// the fork starts unsynced.
func (e *Engine) ForkToBytes() ([]byte, error) {
	forked := store.Manifest{
		RootID:      uuid.New().String(),
		Entrypoints: e.manifest.Entrypoints,
	}
	return e.encode(forked)
}

func (e *Engine) encode(manifest store.Manifest) ([]byte, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return nil, ErrClosed
	}

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)

	meta, err := json.Marshal(manifest)
	if err != nil {
		return nil, fmt.Errorf("encode manifest: %w", err)
	}
	if err := writeEntry(tw, manifestName, meta); err != nil {
		return nil, err
	}

	names := make([]string, 0, len(e.files))
	for name := range e.files {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		f := e.files[name]
		payload := f.bytes
		if payload == nil {
			payload = []byte(f.content)
		}
		if err := writeEntry(tw, strings.TrimPrefix(name, "/"), payload); err != nil {
			return nil, err
		}
	}

	if err := tw.Close(); err != nil {
		return nil, err
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeEntry(tw *tar.Writer, name string, payload []byte) error {
	hdr := &tar.Header{
		Name:     name,
		Mode:     0o644,
		Size:     int64(len(payload)),
		Typeflag: tar.TypeReg,
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}
	if _, err := tw.Write(payload); err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}
	return nil
}
