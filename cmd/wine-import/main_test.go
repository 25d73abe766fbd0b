package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestReadListPlainText(t *testing.T) {
	path := filepath.Join(t.TempDir(), "list.txt")
	content := "Barolo Riserva 2018\nSancerre 2020\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	text, size, err := readList(path)
	if err != nil {
		t.Fatalf("readList: %v", err)
	}
	if text != content || size != int64(len(content)) {
		t.Errorf("readList = %q (%d)", text, size)
	}
}

func TestReadListHTML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "list.HTML")
	content := "<ul><li>Barolo Riserva 2018</li><li>Sancerre 2020</li></ul><script>x()</script>"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	text, size, err := readList(path)
	if err != nil {
		t.Fatalf("readList: %v", err)
	}
	if text != "Barolo Riserva 2018\nSancerre 2020" {
		t.Errorf("readList = %q", text)
	}
	if size != int64(len(content)) {
		t.Errorf("size = %d", size)
	}
}

func TestReadListMissing(t *testing.T) {
	if _, _, err := readList(filepath.Join(t.TempDir(), "nope.txt")); err == nil {
		t.Fatal("expected error")
	}
}
