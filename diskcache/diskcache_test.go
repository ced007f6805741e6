package diskcache

import (
	"os"
	"path/filepath"
	"testing"
)

func TestCache_ResolveCreatesCategoryDir(t *testing.T) {
	root := t.TempDir()
	c, err := New(root, nil)
	if err != nil {
		t.Fatal(err)
	}

	path, err := c.Resolve(CategorySynthesizer, "model-token-1")
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Dir(path) != filepath.Join(root, string(CategorySynthesizer)) {
		t.Fatalf("unexpected resolved path: %s", path)
	}
	if _, err := os.Stat(filepath.Dir(path)); err != nil {
		t.Fatalf("category dir not created: %v", err)
	}
}

func TestCache_ExistsReflectsWrittenFile(t *testing.T) {
	root := t.TempDir()
	c, _ := New(root, nil)

	exists, err := c.Exists(CategoryLoRA, "x")
	if err != nil || exists {
		t.Fatalf("expected false, nil before write, got %v, %v", exists, err)
	}

	path, _ := c.Resolve(CategoryLoRA, "x")
	if err := os.WriteFile(path, []byte("data"), 0o644); err != nil {
		t.Fatal(err)
	}

	exists, err = c.Exists(CategoryLoRA, "x")
	if err != nil || !exists {
		t.Fatalf("expected true, nil after write, got %v, %v", exists, err)
	}
}

func TestCache_EmergencyEvictRemovesFiles(t *testing.T) {
	root := t.TempDir()
	c, _ := New(root, nil)

	for i := 0; i < 5; i++ {
		path, _ := c.Resolve(CategoryCheckpoint, ckptName(i))
		os.WriteFile(path, []byte("x"), 0o644)
	}

	evicted, err := c.EmergencyEvict(CategoryCheckpoint, 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(evicted) != 3 {
		t.Fatalf("expected 3 evicted, got %d", len(evicted))
	}

	remaining, _ := os.ReadDir(filepath.Join(root, string(CategoryCheckpoint)))
	if len(remaining) != 2 {
		t.Fatalf("expected 2 remaining files, got %d", len(remaining))
	}
}

func ckptName(i int) string {
	return "ckpt-" + string(rune('a'+i))
}
