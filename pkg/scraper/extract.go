package scraper

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/JohannesNE/aarhus-covid19-datathon/pkg/page"
)

// maxLineSize bounds one NDJSON record. Normalized tweets with many includes
// exceed the bufio default.
const maxLineSize = 16 << 20

// ExtractConversationIDs reads the NDJSON tweets in src and writes their
// conversation ids, one per line, into dest inside the destination
// directory. Blank lines are skipped. It returns the number of ids written.
func (s *Scraper) ExtractConversationIDs(src, dest string) (int, error) {
	return ExtractConversationIDs(src, filepath.Join(s.config.DestDir, dest))
}

// ExtractConversationIDs is the file level operation behind
// Scraper.ExtractConversationIDs.
func ExtractConversationIDs(src, dest string) (int, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, fmt.Errorf("open source: %w", err)
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return 0, fmt.Errorf("create output directory: %w", err)
	}
	out, err := os.Create(dest)
	if err != nil {
		return 0, fmt.Errorf("create output: %w", err)
	}
	w := bufio.NewWriter(out)

	n, err := copyConversationIDs(in, w, src)
	if err == nil {
		err = w.Flush()
	}
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	return n, err
}

func copyConversationIDs(in *os.File, w *bufio.Writer, src string) (int, error) {
	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	n := 0
	for line := 1; sc.Scan(); line++ {
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}

		dec := json.NewDecoder(strings.NewReader(text))
		dec.UseNumber()
		var tweet page.Entity
		if err := dec.Decode(&tweet); err != nil {
			return n, fmt.Errorf("%s:%d: %w", src, line, err)
		}
		id, ok := tweet.String("conversation_id")
		if !ok {
			return n, fmt.Errorf("%s:%d: tweet has no conversation_id", src, line)
		}
		if _, err := w.WriteString(id + "\n"); err != nil {
			return n, err
		}
		n++
	}
	if err := sc.Err(); err != nil {
		return n, fmt.Errorf("read %s: %w", src, err)
	}
	return n, nil
}
