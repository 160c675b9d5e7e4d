package scraper

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
)

// ReadIDs resolves an id argument: a path to a file with one id per line, or
// a comma separated list. Blank lines and lines starting with "//" are
// skipped. Ids are trimmed.
func ReadIDs(arg string) ([]string, error) {
	arg = strings.TrimSpace(arg)
	if arg == "" {
		return nil, fmt.Errorf("no ids given")
	}

	f, err := os.Open(arg)
	switch {
	case err == nil:
		defer f.Close()
		return readIDLines(f, arg)
	case errors.Is(err, fs.ErrNotExist):
	default:
		return nil, fmt.Errorf("open ids file: %w", err)
	}

	var ids []string
	for _, id := range strings.Split(arg, ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("no ids given")
	}
	return ids, nil
}

func readIDLines(f *os.File, path string) ([]string, error) {
	var ids []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "//") {
			continue
		}
		ids = append(ids, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("%s contains no ids", path)
	}
	return ids, nil
}
