package logreader

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"claudeview/internal/types"
)

// =============================================================================
// CHEAP METADATA READS
// Listings only need the first user message, a summary and the last timestamp,
// so they read a bounded window from each end instead of the whole file.
// =============================================================================

// ReadHead decodes the complete lines within the first maxBytes of the file.
// Malformed lines and a trailing partial line are dropped.
func ReadHead(path string, maxBytes int64) ([]types.Record, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxBytes))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return decodeComplete(data), nil
}

// ReadTail decodes the complete lines within the last maxBytes of the file.
// The first line of the window is dropped when it may be cut.
func ReadTail(path string, maxBytes int64) ([]types.Record, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	size := info.Size()
	start := int64(0)
	if size > maxBytes {
		start = size - maxBytes
	}

	data := make([]byte, size-start)
	if _, err := file.ReadAt(data, start); err != nil && err != io.EOF {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if start > 0 {
		// The byte before the window decides whether the first line is whole.
		prev := make([]byte, 1)
		if _, err := file.ReadAt(prev, start-1); err == nil && prev[0] != '\n' {
			i := bytes.IndexByte(data, '\n')
			if i < 0 {
				return nil, nil
			}
			data = data[i+1:]
		}
	}
	return decodeComplete(data), nil
}

// decodeComplete decodes every newline-terminated line in data.
func decodeComplete(data []byte) []types.Record {
	if i := bytes.LastIndexByte(data, '\n'); i >= 0 {
		data = data[:i+1]
	} else {
		return nil
	}

	var records []types.Record
	for len(data) > 0 {
		i := bytes.IndexByte(data, '\n')
		line := bytes.TrimSpace(data[:i])
		data = data[i+1:]
		if len(line) == 0 {
			continue
		}
		if rec, err := types.DecodeRecord(line); err == nil {
			records = append(records, rec)
		}
	}
	return records
}
