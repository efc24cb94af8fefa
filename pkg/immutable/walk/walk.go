// Package walk enumerates the files of a static output tree.
// Directories are traversed in parallel with fastwalk; the result is sorted
// so that everything derived from it (manifests, versions) is deterministic.
package walk

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/charlievieth/fastwalk"
)

// File is a regular file found in the tree.
type File struct {
	// Path is root relative, slash separated and always starts with "/".
	Path string

	// Abs is the absolute filesystem path.
	Abs string

	// Size is the file size in bytes.
	Size int64
}

// Options configures a walk.
type Options struct {
	// Root is the directory to enumerate.
	Root string

	// Skip, when set, is consulted for every root-relative path.
	// Returning true on a directory prunes it.
	Skip func(rel string, isDir bool) bool
}

// Walk returns every regular file under opts.Root, sorted by Path.
// Symlinks are not followed. Any I/O error aborts the walk.
func Walk(ctx context.Context, opts Options) ([]File, error) {
	root, err := resolveRoot(opts.Root)
	if err != nil {
		return nil, err
	}

	var (
		mu    sync.Mutex
		files []File
	)

	conf := fastwalk.Config{Follow: false}
	err = fastwalk.Walk(&conf, root, func(p string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			return fmt.Errorf("walking %s: %w", p, err)
		}
		if p == root {
			return nil
		}

		rel, err := Rel(root, p)
		if err != nil {
			return err
		}

		if opts.Skip != nil && opts.Skip(rel, d.IsDir()) {
			if d.IsDir() {
				return fastwalk.SkipDir
			}
			return nil
		}

		if !d.Type().IsRegular() {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return fmt.Errorf("stat %s: %w", p, err)
		}

		mu.Lock()
		files = append(files, File{Path: rel, Abs: p, Size: info.Size()})
		mu.Unlock()
		return nil
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files, nil
}

// Rel converts an absolute path under root into the "/a/b.js" form.
func Rel(root, p string) (string, error) {
	rel, err := filepath.Rel(root, p)
	if err != nil {
		return "", err
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%s is outside %s", p, root)
	}
	return "/" + filepath.ToSlash(rel), nil
}

// Abs converts a "/a/b.js" path back to a filesystem path under root.
// The path is cleaned first so it can never escape root.
func Abs(root, rel string) string {
	clean := path.Clean("/" + rel)
	return filepath.Join(root, filepath.FromSlash(strings.TrimPrefix(clean, "/")))
}

// resolveRoot resolves the root path to absolute and verifies it is a directory.
func resolveRoot(root string) (string, error) {
	if root == "" {
		return "", errors.New("walk: root directory is required")
	}

	abs, err := filepath.Abs(root)
	if err != nil {
		return "", err
	}

	info, err := os.Stat(abs)
	if err != nil {
		return "", err
	}
	if !info.IsDir() {
		return "", fmt.Errorf("walk: %s is not a directory", abs)
	}

	return abs, nil
}
