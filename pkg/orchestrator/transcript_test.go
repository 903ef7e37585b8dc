package orchestrator

import (
	"os"
	"path/filepath"
	"testing"
)

func TestFileTranscriptSink(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "responses")
	sink, err := NewFileTranscriptSink(dir, "conv1")
	if err != nil {
		t.Fatalf("NewFileTranscriptSink failed: %v", err)
	}

	partialPath := filepath.Join(dir, "response_conv1_r1_partial.txt")
	finalPath := filepath.Join(dir, "response_conv1_r1_final.txt")
	if sink.Path("r1", false) != partialPath || sink.Path("r1", true) != finalPath {
		t.Errorf("Unexpected paths %s, %s", sink.Path("r1", false), sink.Path("r1", true))
	}

	if err := sink.WriteTranscript("r1", "Hel", false); err != nil {
		t.Fatal(err)
	}
	if err := sink.WriteTranscript("r1", "Hello", false); err != nil {
		t.Fatal(err)
	}
	data, _ := os.ReadFile(partialPath)
	if string(data) != "Hello" {
		t.Errorf("Expected partial overwritten, got %q", data)
	}

	if err := sink.WriteTranscript("r1", "Hello there", true); err != nil {
		t.Fatal(err)
	}
	data, _ = os.ReadFile(finalPath)
	if string(data) != "Hello there" {
		t.Errorf("Expected final text, got %q", data)
	}
	if _, err := os.Stat(partialPath); !os.IsNotExist(err) {
		t.Error("Expected partial removed after final")
	}

	if err := sink.WriteTranscript("r2", "direct", true); err != nil {
		t.Errorf("Expected final without partial to succeed, got %v", err)
	}
}
