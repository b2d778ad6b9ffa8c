package batch

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	dirPerm  = 0o755
	filePerm = 0o644
)

// batchFileName 生成 batch_<UTC 时间戳>_<8 位十六进制>.jsonl
func batchFileName(now time.Time) string {
	return fmt.Sprintf("batch_%s_%s.jsonl", now.UTC().Format("20060102_150405"), shortHex())
}

// resultsFilePath 由输入文件路径推导结果文件路径
func resultsFilePath(inputPath string) string {
	return strings.TrimSuffix(inputPath, ".jsonl") + "_results.jsonl"
}

// writeJSONL 在 dir 下创建文件并逐行写入记录，返回文件路径。
// exclusive 为 true 时文件已存在即返回错误，否则截断重写。
func writeJSONL[T any](dir, name string, records []T, exclusive bool) (string, error) {
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return "", fmt.Errorf("create output dir %s: %w", dir, err)
	}

	path := filepath.Join(dir, name)
	flag := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if exclusive {
		flag = os.O_WRONLY | os.O_CREATE | os.O_EXCL
	}
	f, err := os.OpenFile(path, flag, filePerm)
	if err != nil {
		return "", fmt.Errorf("create batch file: %w", err)
	}

	w := bufio.NewWriter(f)
	if err := encodeLines(w, records); err != nil {
		f.Close()
		os.Remove(path)
		return "", err
	}
	if err := w.Flush(); err != nil {
		f.Close()
		os.Remove(path)
		return "", fmt.Errorf("flush batch file: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close batch file: %w", err)
	}
	return path, nil
}

// encodeLines 每条记录一行 JSON，保留非 ASCII 字符
func encodeLines[T any](w io.Writer, records []T) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return fmt.Errorf("encode record %d: %w", i, err)
		}
	}
	return nil
}

// readWireRecords 读取 JSONL 批文件，忽略空行
func readWireRecords(path string) ([]WireRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var records []WireRecord
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		raw := strings.TrimSpace(sc.Text())
		if raw == "" {
			continue
		}
		var rec WireRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return nil, fmt.Errorf("%s:%d: %w", filepath.Base(path), line, err)
		}
		records = append(records, rec)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return records, nil
}

// removeIfExists 删除文件，文件不存在不算错误
func removeIfExists(path string) error {
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	st, err := os.Stat(path)
	return err == nil && !st.IsDir()
}
