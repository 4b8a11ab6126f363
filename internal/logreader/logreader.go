// Package logreader reads append-only JSONL session files from a line offset onward.
// Only newline-terminated lines are consumed; a trailing partial line is left for
// the next call, so the reader can run while Claude Code is still writing.
package logreader

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"claudeview/internal/types"
)

// Increase buffer for large lines (images can be 1.5MB+ when base64 encoded)
const maxLineSize = 10 * 1024 * 1024

// HeadSize is how much of a file metadata extraction reads from each end.
const HeadSize = 64 * 1024

// Cursor marks the boundary between consumed and unconsumed lines.
// Line counts every newline-terminated line (blank and malformed included);
// Byte is the file position just past the last consumed newline.
type Cursor struct {
	Line int
	Byte int64
}

// Entry is one decoded record and the zero-based line it came from.
type Entry struct {
	Line   int
	Record types.Record
}

// Result is the outcome of one ReadFromCursor call.
type Result struct {
	Entries []Entry
	Next    Cursor
	Size    int64 // file size observed before reading
}

// =============================================================================
// INCREMENTAL READS
// =============================================================================

// ReadFromCursor decodes every complete line after cur.
// Reading is limited to the size observed at stat time so content appended
// mid-read is left for the next call. A missing file returns an error
// satisfying errors.Is(err, os.ErrNotExist).
func ReadFromCursor(path string, cur Cursor, logger *slog.Logger) (Result, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	file, err := os.Open(path)
	if err != nil {
		return Result{Next: cur}, fmt.Errorf("open %s: %w", path, err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return Result{Next: cur}, fmt.Errorf("stat %s: %w", path, err)
	}
	endPos := info.Size()
	res := Result{Next: cur, Size: endPos}
	if endPos <= cur.Byte {
		return res, nil
	}

	if _, err := file.Seek(cur.Byte, io.SeekStart); err != nil {
		return res, fmt.Errorf("seek %s: %w", path, err)
	}

	// Limit reading to exactly the bytes we observed at the start
	reader := bufio.NewReaderSize(io.LimitReader(file, endPos-cur.Byte), 64*1024)
	for {
		line, n, err := readLine(reader)
		if err != nil && !errors.Is(err, errLineTooLong) {
			if errors.Is(err, io.EOF) {
				// Anything left is a partial trailing write.
				break
			}
			return res, fmt.Errorf("read %s: %w", path, err)
		}

		lineNo := res.Next.Line
		res.Next.Line++
		res.Next.Byte += n

		if err != nil {
			logger.Debug("skipping oversized line", "path", path, "offset", lineNo, "bytes", n)
			continue
		}
		trimmed := bytes.TrimSpace(line)
		if len(trimmed) == 0 {
			continue
		}
		rec, err := types.DecodeRecord(trimmed)
		if err != nil {
			logger.Debug("skipping malformed line", "path", path, "offset", lineNo, "err", err)
			continue
		}
		res.Entries = append(res.Entries, Entry{Line: lineNo, Record: rec})
	}

	return res, nil
}

var errLineTooLong = errors.New("line exceeds maximum size")

// readLine returns one newline-terminated line and the bytes it occupied.
// Lines over maxLineSize are drained and reported with errLineTooLong so the
// cursor still moves past them. io.EOF means no terminator was found.
func readLine(r *bufio.Reader) ([]byte, int64, error) {
	var (
		buf     []byte
		n       int64
		tooLong bool
	)
	for {
		chunk, err := r.ReadSlice('\n')
		n += int64(len(chunk))
		if !tooLong {
			if len(buf)+len(chunk) > maxLineSize {
				tooLong, buf = true, nil
			} else {
				buf = append(buf, chunk...)
			}
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		if err != nil {
			return nil, n, err
		}
		if tooLong {
			return nil, n, errLineTooLong
		}
		return buf, n, nil
	}
}

// ReadFrom returns the records decoded from line offset onward and the next
// line offset. An offset at or past the end of the file yields no records and
// the offset unchanged. It is a stateless convenience wrapper: lines before
// offset are scanned but not decoded. Callers polling one file repeatedly
// should keep a Cursor and use ReadFromCursor.
func ReadFrom(path string, offset int, logger *slog.Logger) ([]types.Record, int, error) {
	if offset < 0 {
		offset = 0
	}
	cur, err := SeekLine(path, offset)
	if err != nil {
		return nil, offset, err
	}
	if cur.Line < offset {
		return nil, offset, nil
	}
	res, err := ReadFromCursor(path, cur, logger)
	if err != nil {
		return nil, offset, err
	}
	if res.Next.Line <= offset {
		return nil, offset, nil
	}
	records := make([]types.Record, 0, len(res.Entries))
	for _, e := range res.Entries {
		records = append(records, e.Record)
	}
	return records, res.Next.Line, nil
}

// SeekLine returns the cursor just past the first line complete lines of the
// file, without decoding them. A file with fewer complete lines yields a
// cursor at its last newline.
func SeekLine(path string, line int) (Cursor, error) {
	var cur Cursor
	if line <= 0 {
		return cur, nil
	}
	file, err := os.Open(path)
	if err != nil {
		return cur, fmt.Errorf("open %s: %w", path, err)
	}
	defer file.Close()

	reader := bufio.NewReaderSize(file, 64*1024)
	for cur.Line < line {
		_, n, err := readLine(reader)
		if err != nil && !errors.Is(err, errLineTooLong) {
			if errors.Is(err, io.EOF) {
				break
			}
			return cur, fmt.Errorf("read %s: %w", path, err)
		}
		cur.Line++
		cur.Byte += n
	}
	return cur, nil
}
