package protocol

import (
	"testing"
	"time"

	"chatalk/models"
)

func TestParse(t *testing.T) {
	tests := []struct {
		line     string
		wantName string
	}{
		{"reg alice secret1", "reg"},
		{"LOGIN alice secret1", "login"},
		{"whoseonline", "whoseonline"},
		{"message bob hi there", "message"},
		{"", ""},
	}

	for _, tt := range tests {
		cmd := Parse(tt.line + "\n")
		if cmd.Name != tt.wantName {
			t.Errorf("Parse(%q).Name = %q, want %q", tt.line, cmd.Name, tt.wantName)
		}
	}
}

func TestSplitKeepsMessageText(t *testing.T) {
	cmd := Parse("message bob hello there friend\n")

	parts := cmd.Split(3)
	if len(parts) != 3 {
		t.Fatalf("Expected 3 parts, got %v", parts)
	}
	if parts[1] != "bob" || parts[2] != "hello there friend" {
		t.Errorf("Unexpected split: %v", parts)
	}
}

func TestEscapeRoundTrip(t *testing.T) {
	inputs := []string{
		"plain",
		"with|pipe",
		"with,comma",
		"back\\slash",
		"line\nbreak",
		"all|of,it\\together\r\n",
	}

	for _, in := range inputs {
		if got := Unescape(Escape(in)); got != in {
			t.Errorf("Round trip of %q gave %q", in, got)
		}
	}
}

func TestEncodeRecord(t *testing.T) {
	ts := time.Date(2024, 5, 1, 12, 30, 0, 0, time.UTC)

	direct := &models.ChatRecord{
		Kind:      models.KindDirect,
		Author:    "alice",
		Recipient: "bob",
		Content:   "hi | there",
		Timestamp: ts,
	}
	want := "direct|alice|bob|hi \\| there|2024-05-01T12:30:00Z"
	if got := EncodeRecord(direct); got != want {
		t.Errorf("EncodeRecord = %q, want %q", got, want)
	}

	// A notice has no author, a broadcast no recipient; the empty field
	// stays in place.
	notice := &models.ChatRecord{Kind: models.KindServerNotice, Recipient: "bob", Content: "x", Timestamp: ts}
	if got := EncodeRecord(notice); got != "notice||bob|x|2024-05-01T12:30:00Z" {
		t.Errorf("Unexpected notice encoding: %q", got)
	}

	broadcast := &models.ChatRecord{Kind: models.KindBroadcast, Author: "alice", Content: "x", Timestamp: ts}
	if got := EncodeRecord(broadcast); got != "broadcast|alice||x|2024-05-01T12:30:00Z" {
		t.Errorf("Unexpected broadcast encoding: %q", got)
	}
}

func TestFormatList(t *testing.T) {
	if got := FormatList(nil); got != "" {
		t.Errorf("Empty list should format empty, got %q", got)
	}
	if got := FormatList([]string{"alice", "bob"}); got != "alice,bob" {
		t.Errorf("FormatList = %q", got)
	}
	if got := FormatList([]string{"a,b"}); got != "a\\,b" {
		t.Errorf("Commas inside items must be escaped, got %q", got)
	}
}
