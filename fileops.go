// fileops.go: staged tree copies, atomic swaps and content digests
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package modhub

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// workPrefix marks the hidden staging and backup directories created next
// to a destination. Scans and digests ignore them.
const workPrefix = ".modhub-"

// fileTransform rewrites the contents of the file at rel (slash separated,
// relative to the tree root). A nil transform copies bytes verbatim.
type fileTransform func(rel string, data []byte) ([]byte, error)

// copyTree copies the directory src into dst, which must not exist yet.
// Symlinks are recreated, not followed.
func copyTree(src, dst string, transform fileTransform) error {
	srcInfo, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("failed to stat source directory: %w", err)
	}
	if err := os.MkdirAll(dst, srcInfo.Mode().Perm()|0o700); err != nil {
		return fmt.Errorf("failed to create destination directory: %w", err)
	}

	return filepath.WalkDir(src, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		if strings.HasPrefix(d.Name(), workPrefix) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		target := filepath.Join(dst, rel)

		switch {
		case d.Type()&fs.ModeSymlink != 0:
			link, err := os.Readlink(path)
			if err != nil {
				return fmt.Errorf("failed to read symlink: %w", err)
			}
			return os.Symlink(link, target)
		case d.IsDir():
			info, err := d.Info()
			if err != nil {
				return err
			}
			return os.MkdirAll(target, info.Mode().Perm()|0o700)
		default:
			info, err := d.Info()
			if err != nil {
				return err
			}
			return copyFile(path, target, info.Mode().Perm(), filepath.ToSlash(rel), transform)
		}
	})
}

func copyFile(src, dst string, mode os.FileMode, rel string, transform fileTransform) error {
	if transform != nil {
		data, err := os.ReadFile(src) // #nosec G304 - src comes from a directory walk
		if err != nil {
			return fmt.Errorf("failed to read source: %w", err)
		}
		if data, err = transform(rel, data); err != nil {
			return err
		}
		return writeSynced(dst, data, mode)
	}

	srcFile, err := os.Open(src) // #nosec G304 - src comes from a directory walk
	if err != nil {
		return fmt.Errorf("failed to open source: %w", err)
	}
	defer func() {
		_ = srcFile.Close()
	}()

	dstFile, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_EXCL, mode)
	if err != nil {
		return fmt.Errorf("failed to create destination: %w", err)
	}
	defer func() {
		_ = dstFile.Close()
	}()

	if _, err := io.Copy(dstFile, srcFile); err != nil {
		return fmt.Errorf("failed to copy file contents: %w", err)
	}
	return dstFile.Sync()
}

func writeSynced(path string, data []byte, mode os.FileMode) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, mode)
	if err != nil {
		return fmt.Errorf("failed to create destination: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write destination: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to sync destination: %w", err)
	}
	return f.Close()
}

// stageTree copies src into a hidden directory beside dst and returns its
// path. The caller moves it into place with swapInto.
func stageTree(src, dst string, transform fileTransform) (string, error) {
	parent := filepath.Dir(dst)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return "", fmt.Errorf("failed to create parent directory: %w", err)
	}
	staging, err := os.MkdirTemp(parent, workPrefix+"stage-*")
	if err != nil {
		return "", fmt.Errorf("failed to create staging directory: %w", err)
	}
	// copyTree wants a fresh destination
	tree := filepath.Join(staging, "tree")
	if err := copyTree(src, tree, transform); err != nil {
		_ = os.RemoveAll(staging)
		return "", err
	}
	return staging, nil
}

// swapInto replaces dst with the tree staged by stageTree. An existing dst
// is moved aside first and restored if the final rename fails, so dst is
// always either the old tree or the new one.
func swapInto(staging, dst string) error {
	defer func() {
		_ = os.RemoveAll(staging)
	}()
	tree := filepath.Join(staging, "tree")

	backup := ""
	if _, err := os.Lstat(dst); err == nil {
		backup = filepath.Join(staging, "previous")
		if err := os.Rename(dst, backup); err != nil {
			return fmt.Errorf("failed to move existing tree aside: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("failed to stat destination: %w", err)
	}

	if err := os.Rename(tree, dst); err != nil {
		if backup != "" {
			if restoreErr := os.Rename(backup, dst); restoreErr != nil {
				return fmt.Errorf("failed to install tree (%v) and to restore previous tree: %w", err, restoreErr)
			}
		}
		return fmt.Errorf("failed to install tree: %w", err)
	}
	return nil
}

// treeDigest hashes the relative paths, file modes and contents of every
// entry below dir.
func treeDigest(dir string) (string, error) {
	type entry struct {
		rel  string
		path string
		kind byte
	}
	var entries []entry
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if path == dir {
			return nil
		}
		if strings.HasPrefix(d.Name(), workPrefix) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		kind := byte('f')
		switch {
		case d.Type()&fs.ModeSymlink != 0:
			kind = 'l'
		case d.IsDir():
			kind = 'd'
		}
		entries = append(entries, entry{rel: filepath.ToSlash(rel), path: path, kind: kind})
		return nil
	})
	if err != nil {
		return "", err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].rel < entries[j].rel })

	h := sha256.New()
	for _, e := range entries {
		fmt.Fprintf(h, "%c %s\x00", e.kind, e.rel)
		switch e.kind {
		case 'l':
			link, err := os.Readlink(e.path)
			if err != nil {
				return "", err
			}
			fmt.Fprintf(h, "%s\x00", link)
		case 'f':
			if err := hashFileInto(h, e.path); err != nil {
				return "", err
			}
		}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func hashFileInto(w io.Writer, path string) error {
	file, err := os.Open(path) // #nosec G304 - path comes from a directory walk
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer func() {
		_ = file.Close()
	}()
	if _, err := io.Copy(w, file); err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}
	return nil
}

// dirState reports whether path exists and, if it is a directory, whether
// it is empty.
func dirState(path string) (exists bool, empty bool, err error) {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return false, true, nil
	}
	if err != nil {
		return false, false, err
	}
	if !info.IsDir() {
		return true, false, nil
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return true, false, err
	}
	return true, len(entries) == 0, nil
}

// atomicWriteFile writes data to path using temp file + rename.
func atomicWriteFile(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create parent directory: %w", err)
	}

	tmpFile, err := os.CreateTemp(dir, workPrefix+"tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()
	defer func() {
		if tmpFile != nil {
			_ = tmpFile.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		return fmt.Errorf("failed to write to temp file: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		return fmt.Errorf("failed to set permissions: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	tmpFile = nil
	return nil
}
