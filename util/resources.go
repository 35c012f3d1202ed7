// util/resources.go
// Copyright(c) 2026 crashsim contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package util

import (
	"bytes"
	"io"
	"io/fs"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
)

// LoadResourceBytes returns the contents of the named file from the given
// (generally embedded) filesystem; if it's zstd compressed, it is
// decompressed transparently. It panics if the file is not found since
// missing resources are pretty much impossible to recover from.
func LoadResourceBytes(fsys fs.FS, path string) []byte {
	b, err := fs.ReadFile(fsys, path)
	if err != nil {
		panic(err)
	}

	if filepath.Ext(path) == ".zst" {
		zr, err := zstd.NewReader(bytes.NewReader(b), zstd.WithDecoderConcurrency(0))
		if err != nil {
			panic(err)
		}
		defer zr.Close()

		d, err := io.ReadAll(zr)
		if err != nil {
			panic(err)
		}
		return d
	}

	return b
}

// ResourceExists reports whether the named resource is present, either
// directly or in zstd-compressed form.
func ResourceExists(fsys fs.FS, path string) bool {
	if _, err := fs.Stat(fsys, path); err == nil {
		return true
	}
	_, err := fs.Stat(fsys, path+".zst")
	return err == nil
}
