package filestore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"userprofile/internal/common"
)

const tempPrefix = ".upload-"

// DiskBackend keeps files in <root>/<userId>/<name>.
type DiskBackend struct {
	root string
}

func NewDiskBackend(root string) (*DiskBackend, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve upload dir: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, storageErr("create upload dir", err)
	}
	return &DiskBackend{root: abs}, nil
}

func (d *DiskBackend) dir(prefix string) string {
	return filepath.Join(d.root, prefix)
}

func (d *DiskBackend) EnsurePrefix(ctx context.Context, prefix string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(d.dir(prefix), 0o755); err != nil {
		return storageErr("create user directory", err)
	}
	return nil
}

// Put writes to a temp file next to the destination and renames it into place.
func (d *DiskBackend) Put(ctx context.Context, prefix, name string, r io.Reader) (obj Object, err error) {
	if err := ctx.Err(); err != nil {
		return Object{}, err
	}
	dir := d.dir(prefix)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Object{}, storageErr("create user directory", err)
	}
	tmp, err := os.CreateTemp(dir, tempPrefix+"*")
	if err != nil {
		return Object{}, storageErr("create temp file", err)
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		if err != nil {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err = io.Copy(tmp, r); err != nil {
		return Object{}, storageErr("write file", err)
	}
	if err = tmp.Close(); err != nil {
		return Object{}, storageErr("close file", err)
	}
	dest := filepath.Join(dir, name)
	if err = os.Rename(tmpName, dest); err != nil {
		return Object{}, storageErr("move file", err)
	}
	info, err := os.Stat(dest)
	if err != nil {
		return Object{}, storageErr("stat file", err)
	}
	return Object{Name: name, Location: dest, Size: info.Size(), ModifiedAt: info.ModTime()}, nil
}

func (d *DiskBackend) Get(ctx context.Context, prefix, name string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(d.dir(prefix), name))
	if errors.Is(err, os.ErrNotExist) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, storageErr("read file", err)
	}
	return data, nil
}

func (d *DiskBackend) Delete(ctx context.Context, prefix, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := os.Remove(filepath.Join(d.dir(prefix), name))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return storageErr("delete file", err)
	}
	return nil
}

func (d *DiskBackend) Exists(ctx context.Context, prefix, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	info, err := os.Stat(filepath.Join(d.dir(prefix), name))
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, storageErr("stat file", err)
	}
	return info.Mode().IsRegular(), nil
}

func (d *DiskBackend) List(ctx context.Context, prefix string) ([]Object, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dir := d.dir(prefix)
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return []Object{}, nil
	}
	if err != nil {
		return nil, storageErr("list directory", err)
	}
	objects := make([]Object, 0, len(entries))
	for _, entry := range entries {
		if !entry.Type().IsRegular() || strings.HasPrefix(entry.Name(), tempPrefix) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			// Removed between ReadDir and Info.
			continue
		}
		objects = append(objects, Object{
			Name:       entry.Name(),
			Location:   filepath.Join(dir, entry.Name()),
			Size:       info.Size(),
			ModifiedAt: info.ModTime(),
		})
	}
	return objects, nil
}

func (d *DiskBackend) DeletePrefix(ctx context.Context, prefix string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.RemoveAll(d.dir(prefix)); err != nil {
		return storageErr("delete user directory", err)
	}
	return nil
}

func storageErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, common.ErrStorage, err)
}
