package exports

import (
	"bufio"
	"bytes"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"encoding/json"
	"testing"

	"brokerchain/storage"
)

func sampleEntries() []storage.JournalEntry {
	return []storage.JournalEntry{
		{Seq: 1, Type: "broker.initialized", Attributes: map[string]string{"owner": "brk1xyz"}, Checksum: "aa"},
		{Seq: 2, Type: "ledger.deposited", Attributes: map[string]string{"asset": "0x01", "amount": "10"}, Checksum: "bb"},
	}
}

func TestEventsCSV(t *testing.T) {
	data, checksum, err := EventsCSV(sampleEntries())
	if err != nil {
		t.Fatalf("csv: %v", err)
	}
	sum := sha256.Sum256(data)
	if checksum != hex.EncodeToString(sum[:]) {
		t.Fatalf("checksum mismatch")
	}
	rows, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected header plus two rows, got %d", len(rows))
	}
	if rows[2][0] != "2" || rows[2][1] != "ledger.deposited" {
		t.Fatalf("unexpected row: %v", rows[2])
	}
	if rows[2][2] != "amount=10;asset=0x01" {
		t.Fatalf("attributes not sorted: %q", rows[2][2])
	}
}

func TestEventsJSONL(t *testing.T) {
	data, checksum, err := EventsJSONL(sampleEntries())
	if err != nil {
		t.Fatalf("jsonl: %v", err)
	}
	if checksum == "" {
		t.Fatalf("expected checksum")
	}
	scanner := bufio.NewScanner(bytes.NewReader(data))
	lines := 0
	for scanner.Scan() {
		var row struct {
			Seq        uint64            `json:"seq"`
			Type       string            `json:"type"`
			Attributes map[string]string `json:"attributes"`
		}
		if err := json.Unmarshal(scanner.Bytes(), &row); err != nil {
			t.Fatalf("decode line %d: %v", lines, err)
		}
		lines++
		if row.Seq != uint64(lines) {
			t.Fatalf("unexpected seq %d", row.Seq)
		}
	}
	if lines != 2 {
		t.Fatalf("expected two lines, got %d", lines)
	}
}

func TestEventsEmpty(t *testing.T) {
	data, _, err := EventsJSONL(nil)
	if err != nil || len(data) != 0 {
		t.Fatalf("expected empty export, got %q err=%v", data, err)
	}
}
