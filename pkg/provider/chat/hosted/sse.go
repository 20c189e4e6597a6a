package hosted

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
)

// errStopSSE aborts the SSE read loop without surfacing an error.
var errStopSSE = errors.New("hosted: stop sse")

// readSSE reads server-sent events from r and calls onData with each
// assembled data payload. Multi-line data fields are joined per the SSE
// spec; a "[DONE]" sentinel ends the stream cleanly.
func readSSE(r io.Reader, onData func([]byte) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)

	var dataLines [][]byte
	flush := func() error {
		if len(dataLines) == 0 {
			return nil
		}
		payload := strings.TrimSpace(string(bytes.Join(dataLines, []byte("\n"))))
		dataLines = dataLines[:0]
		if payload == "" {
			return nil
		}
		if payload == "[DONE]" {
			return errStopSSE
		}
		return onData([]byte(payload))
	}

	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			if err := flush(); err != nil {
				if errors.Is(err, errStopSSE) {
					return nil
				}
				return err
			}
			continue
		}
		if data, ok := strings.CutPrefix(line, "data:"); ok {
			dataLines = append(dataLines, []byte(strings.TrimSpace(data)))
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("hosted: sse read: %w", err)
	}
	if err := flush(); err != nil && !errors.Is(err, errStopSSE) {
		return err
	}
	return nil
}
