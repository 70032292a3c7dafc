package data

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/djeday123/charseq/vocab"

	_ "github.com/djeday123/charseq/backend/cpu"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadCorpus(t *testing.T) {
	path := writeFile(t, "corpus.txt", "ab\nba\n")
	v := vocab.New()

	ids, err := LoadCorpus(path, v, true)
	if err != nil {
		t.Fatalf("LoadCorpus: %v", err)
	}

	// First-seen order after the reserved IDs: a=2, b=3, \n=4.
	want := []int64{2, 3, 4, 3, 2, 4}
	if len(ids) != len(want) {
		t.Fatalf("got %d ids, want %d", len(ids), len(want))
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Errorf("ids[%d] = %d, want %d", i, ids[i], want[i])
		}
	}
	if v.Size() != 5 {
		t.Errorf("vocab size = %d, want 5", v.Size())
	}
}

func TestLoadCorpusMissingFile(t *testing.T) {
	v := vocab.New()
	if _, err := LoadCorpus(filepath.Join(t.TempDir(), "absent.txt"), v, true); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadCorpusClosedVocab(t *testing.T) {
	path := writeFile(t, "corpus.txt", "abc")
	v := vocab.New()
	v.GetIdx("a", true)
	if err := v.Freeze(); err != nil {
		t.Fatal(err)
	}

	ids, err := LoadCorpus(path, v, false)
	if err != nil {
		t.Fatalf("LoadCorpus: %v", err)
	}
	want := []int64{2, vocab.UnkID, vocab.UnkID}
	for i := range want {
		if ids[i] != want[i] {
			t.Errorf("ids[%d] = %d, want %d", i, ids[i], want[i])
		}
	}
}
