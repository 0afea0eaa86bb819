package fsutil

import (
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync/atomic"
)

// EnsureDir creates the directory and any missing parents.
func EnsureDir(path string) error {
	return os.MkdirAll(path, 0o755)
}

// CopyFile copies a single regular file, creating the destination directory.
func CopyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := EnsureDir(filepath.Dir(dst)); err != nil {
		return err
	}

	out, err := os.Create(dst)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// CopyDir copies the regular files of src into dst, recursing into
// subdirectories. A missing src is treated as empty, not an error.
func CopyDir(src, dst string) error {
	entries, err := os.ReadDir(src)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	if err := EnsureDir(dst); err != nil {
		return err
	}

	for _, e := range entries {
		srcPath := filepath.Join(src, e.Name())
		dstPath := filepath.Join(dst, e.Name())
		if e.IsDir() {
			if err := CopyDir(srcPath, dstPath); err != nil {
				return err
			}
			continue
		}
		if err := CopyFile(srcPath, dstPath); err != nil {
			return err
		}
	}
	return nil
}

// Allocator hands out numeric asset-folder ids. The base directory is
// scanned once at construction for the highest existing numeric name;
// after that ids come from an atomic counter, so two pipelines finishing
// at the same moment can never be assigned the same folder.
type Allocator struct {
	next atomic.Int64
}

func NewAllocator(baseDir string) (*Allocator, error) {
	if err := EnsureDir(baseDir); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(baseDir)
	if err != nil {
		return nil, err
	}

	var max int64
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		n, err := strconv.ParseInt(e.Name(), 10, 64)
		if err == nil && n > max {
			max = n
		}
	}

	a := &Allocator{}
	a.next.Store(max)
	return a, nil
}

// Next returns a folder id that has not been handed out before.
func (a *Allocator) Next() int {
	return int(a.next.Add(1))
}

// NumericDirs lists the numeric folder names under baseDir in ascending order.
func NumericDirs(baseDir string) ([]int, error) {
	entries, err := os.ReadDir(baseDir)
	if err != nil {
		return nil, err
	}

	var nums []int
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if n, err := strconv.Atoi(e.Name()); err == nil {
			nums = append(nums, n)
		}
	}
	sort.Ints(nums)
	return nums, nil
}
