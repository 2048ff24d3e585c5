// Package regionsnap persists allocator chunk layouts as zstd-compressed dump
// files and verifies that replicated dumps agree.
package regionsnap

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/garethgeorge/govram/internal/regionalloc"
	"github.com/klauspost/compress/zstd"
	"golang.org/x/sync/errgroup"
)

// Write streams a compressed dump of the allocator's chunk layout to w.
func Write(w io.Writer, a *regionalloc.Allocator) error {
	zstdWriter, err := zstd.NewWriter(w,
		zstd.WithEncoderCRC(true),
		zstd.WithEncoderConcurrency(2),
		zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return fmt.Errorf("create zstd writer: %w", err)
	}
	if err := a.Serialize(zstdWriter); err != nil {
		zstdWriter.Close()
		return fmt.Errorf("write dump: %w", err)
	}
	if err := zstdWriter.Close(); err != nil {
		return fmt.Errorf("close zstd writer: %w", err)
	}
	return nil
}

// Read reconstructs an allocator from a compressed dump.
func Read(r io.Reader) (*regionalloc.Allocator, error) {
	zstdReader, err := zstd.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("create zstd reader: %w", err)
	}
	defer zstdReader.Close()
	a, err := regionalloc.Deserialize(zstdReader)
	if err != nil {
		return nil, fmt.Errorf("read dump: %w", err)
	}
	return a, nil
}

// WriteFiles fans one dump out to every path, writing to a temporary file
// next to each target and renaming only once the full dump has been flushed.
func WriteFiles(paths []string, a *regionalloc.Allocator) error {
	var eg errgroup.Group
	var writers []io.Writer
	var closers []io.Closer

	for _, path := range paths {
		tmpPath := path + ".tmp"
		piper, pipew := io.Pipe()
		writers = append(writers, pipew)
		closers = append(closers, pipew)

		f, err := os.Create(tmpPath)
		if err != nil {
			// Unblock the copy goroutines already started for earlier paths
			// and remove their temp files.
			for _, closer := range closers {
				closer.Close()
			}
			eg.Wait()
			removeTempFiles(paths)
			return fmt.Errorf("create dump file: %w", err)
		}
		eg.Go(func() error {
			defer piper.Close()
			defer f.Close()
			if _, err := io.Copy(f, piper); err != nil {
				return fmt.Errorf("write dump to %s: %w", tmpPath, err)
			}
			return nil
		})
	}

	multiwriter := io.MultiWriter(writers...)
	if err := Write(multiwriter, a); err != nil {
		for _, closer := range closers {
			closer.Close()
		}
		eg.Wait()
		removeTempFiles(paths)
		return err
	}

	// Close all pipe writers underlying the multiwriter
	for _, closer := range closers {
		if err := closer.Close(); err != nil {
			return fmt.Errorf("close pipe writer: %w", err)
		}
	}

	// Wait for all dump writes to complete
	if err := eg.Wait(); err != nil {
		return fmt.Errorf("wait for dump writes: %w", err)
	}

	for _, path := range paths {
		if err := os.Rename(path+".tmp", path); err != nil {
			return fmt.Errorf("rename dump file: %w", err)
		}
	}
	return nil
}

func removeTempFiles(paths []string) {
	for _, path := range paths {
		os.Remove(path + ".tmp")
	}
}

// VerifyFiles hashes every dump file concurrently and checks that all copies
// agree, returning the common xxhash64 checksum. Missing files are skipped;
// if no file exists the checksum is zero.
func VerifyFiles(paths []string) (uint64, error) {
	var checksumsMu sync.Mutex
	checksums := make(map[string]uint64)

	var eg errgroup.Group
	for _, path := range paths {
		f, err := os.Open(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return 0, fmt.Errorf("open dump file %s: %w", path, err)
		}
		defer f.Close()

		eg.Go(func() error {
			// Compute a xxhash64 checksum of the dump
			hasher := xxhash.New()
			if _, err := io.Copy(hasher, f); err != nil {
				return fmt.Errorf("hash dump file %s: %w", path, err)
			}
			sum := hasher.Sum64()

			checksumsMu.Lock()
			defer checksumsMu.Unlock()
			checksums[path] = sum
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return 0, fmt.Errorf("verify dumps: %w", err)
	}

	distinct := make(map[uint64][]string)
	for path, sum := range checksums {
		distinct[sum] = append(distinct[sum], path)
	}
	if len(distinct) > 1 {
		return 0, fmt.Errorf("dump checksum mismatch: %d distinct checksums across %d files", len(distinct), len(checksums))
	}
	for sum := range distinct {
		return sum, nil
	}
	return 0, nil
}
