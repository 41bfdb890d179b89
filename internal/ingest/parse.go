// Package ingest feeds IOC lists from files, stdin or a watched folder
// through the lookup service.
package ingest

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// Item is one IOC read from an input source.
type Item struct {
	IOC  string `json:"ioc"`
	Type string `json:"type,omitempty"`
}

// ParseLine parses one input line. Accepted forms are a bare IOC, "ioc,type",
// or a JSON object {"ioc": ..., "type": ...}. Blank lines and lines starting
// with '#' are skipped (ok=false, nil error).
func ParseLine(line string) (item Item, ok bool, err error) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return Item{}, false, nil
	}

	if strings.HasPrefix(line, "{") {
		if err := json.Unmarshal([]byte(line), &item); err != nil {
			return Item{}, false, fmt.Errorf("invalid JSON line: %w", err)
		}
	} else if ioc, typ, found := strings.Cut(line, ","); found {
		item = Item{IOC: ioc, Type: typ}
	} else {
		item = Item{IOC: line}
	}

	item.IOC = strings.TrimSpace(item.IOC)
	item.Type = strings.TrimSpace(item.Type)
	if item.IOC == "" {
		return Item{}, false, fmt.Errorf("missing ioc")
	}
	return item, true, nil
}

// ReadItems parses every line of r. Lines that fail to parse are passed to
// onError with their 1-based line number and otherwise skipped.
func ReadItems(r io.Reader, onError func(line int, err error)) ([]Item, error) {
	scanner := bufio.NewScanner(r)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)

	var items []Item
	n := 0
	for scanner.Scan() {
		n++
		item, ok, err := ParseLine(scanner.Text())
		if err != nil {
			if onError != nil {
				onError(n, err)
			}
			continue
		}
		if ok {
			items = append(items, item)
		}
	}
	if err := scanner.Err(); err != nil {
		return items, fmt.Errorf("read input: %w", err)
	}
	return items, nil
}
