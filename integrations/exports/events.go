package exports

import (
	"bytes"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strconv"

	"brokerchain/storage"
)

var csvHeader = []string{"seq", "type", "attributes", "checksum"}

// EventsCSV builds a CSV export of journal entries and returns the serialised
// data alongside a SHA-256 checksum of the payload. Attributes are encoded as
// sorted key=value pairs separated by semicolons.
func EventsCSV(entries []storage.JournalEntry) ([]byte, string, error) {
	buffer := &bytes.Buffer{}
	writer := csv.NewWriter(buffer)
	if err := writer.Write(csvHeader); err != nil {
		return nil, "", err
	}
	for _, entry := range entries {
		record := []string{
			strconv.FormatUint(entry.Seq, 10),
			entry.Type,
			flatten(entry.Attributes),
			entry.Checksum,
		}
		if err := writer.Write(record); err != nil {
			return nil, "", err
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, "", err
	}
	return digest(buffer.Bytes())
}

// EventsJSONL builds a JSON Lines export of journal entries and returns the
// serialised payload alongside a checksum.
func EventsJSONL(entries []storage.JournalEntry) ([]byte, string, error) {
	buffer := &bytes.Buffer{}
	encoder := json.NewEncoder(buffer)
	encoder.SetEscapeHTML(false)
	for _, entry := range entries {
		attrs := entry.Attributes
		if attrs == nil {
			attrs = map[string]string{}
		}
		payload := map[string]interface{}{
			"seq":        entry.Seq,
			"type":       entry.Type,
			"attributes": attrs,
			"checksum":   entry.Checksum,
		}
		if err := encoder.Encode(payload); err != nil {
			return nil, "", err
		}
	}
	return digest(buffer.Bytes())
}

func flatten(attrs map[string]string) string {
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b bytes.Buffer
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(';')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(attrs[k])
	}
	return b.String()
}

func digest(data []byte) ([]byte, string, error) {
	sum := sha256.Sum256(data)
	return data, hex.EncodeToString(sum[:]), nil
}
