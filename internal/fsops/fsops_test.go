package fsops

import (
	"archive/zip"
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/lanvault/lanvault/internal/fault"
	"github.com/lanvault/lanvault/internal/sandbox"
)

func newScope(t *testing.T) *sandbox.Resolver {
	t.Helper()
	r, err := sandbox.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return r
}

func mustWrite(t *testing.T, root, rel, content string) {
	t.Helper()
	p := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestListSorted(t *testing.T) {
	r := newScope(t)
	mustWrite(t, r.Root(), "b.txt", "b")
	mustWrite(t, r.Root(), "a.txt", "a")
	mustWrite(t, r.Root(), "zdir/x.txt", "x")

	entries, err := List(r, "")
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name)
	}
	want := []string{"zdir", "a.txt", "b.txt"}
	if strings.Join(names, ",") != strings.Join(want, ",") {
		t.Errorf("order = %v, want %v (directories first)", names, want)
	}
	if entries[1].Path != "a.txt" || entries[1].Size != 1 {
		t.Errorf("entry = %+v", entries[1])
	}
}

func TestListOfFile(t *testing.T) {
	r := newScope(t)
	mustWrite(t, r.Root(), "a.txt", "a")
	if _, err := List(r, "a.txt"); !fault.Is(err, fault.KindNotADirectory) {
		t.Errorf("List(file) = %v, want not a directory", err)
	}
}

func TestListMissing(t *testing.T) {
	r := newScope(t)
	if _, err := List(r, "ghost"); !fault.Is(err, fault.KindNotFound) {
		t.Errorf("List(missing) = %v, want not found", err)
	}
}

func TestTree(t *testing.T) {
	r := newScope(t)
	mustWrite(t, r.Root(), "docs/a/deep.txt", "x")
	mustWrite(t, r.Root(), "docs/top.txt", "y")

	node, err := Tree(r, "docs")
	if err != nil {
		t.Fatal(err)
	}
	if len(node.Children) != 2 {
		t.Fatalf("children = %d", len(node.Children))
	}
	if node.Children[0].Name != "a" || !node.Children[0].IsDir {
		t.Errorf("first child = %+v", node.Children[0].Entry)
	}
	if len(node.Children[0].Children) != 1 || node.Children[0].Children[0].Path != "docs/a/deep.txt" {
		t.Errorf("deep child = %+v", node.Children[0].Children)
	}
}

func TestOpenDirectory(t *testing.T) {
	r := newScope(t)
	if err := os.Mkdir(filepath.Join(r.Root(), "d"), 0o755); err != nil {
		t.Fatal(err)
	}
	if _, _, err := Open(r, "d"); !fault.Is(err, fault.KindIsADirectory) {
		t.Errorf("Open(dir) = %v, want is a directory", err)
	}
}

func TestWriteFileNoOverwrite(t *testing.T) {
	r := newScope(t)

	n, err := WriteFile(r, "new.txt", strings.NewReader("hello"), false)
	if err != nil {
		t.Fatal(err)
	}
	if n != 5 {
		t.Errorf("written = %d", n)
	}
	got, err := os.ReadFile(filepath.Join(r.Root(), "new.txt"))
	if err != nil || string(got) != "hello" {
		t.Fatalf("content = %q, err %v", got, err)
	}

	_, err = WriteFile(r, "new.txt", strings.NewReader("clobber"), false)
	if !fault.Is(err, fault.KindAlreadyExists) {
		t.Errorf("second write = %v, want already exists", err)
	}
	got, _ = os.ReadFile(filepath.Join(r.Root(), "new.txt"))
	if string(got) != "hello" {
		t.Errorf("content clobbered: %q", got)
	}
}

func TestWriteFileOverwrite(t *testing.T) {
	r := newScope(t)
	mustWrite(t, r.Root(), "f.txt", "old")
	if _, err := WriteFile(r, "f.txt", strings.NewReader("new"), true); err != nil {
		t.Fatal(err)
	}
	got, _ := os.ReadFile(filepath.Join(r.Root(), "f.txt"))
	if string(got) != "new" {
		t.Errorf("content = %q", got)
	}
}

func TestWriteFileParentMissing(t *testing.T) {
	r := newScope(t)
	_, err := WriteFile(r, "nodir/f.txt", strings.NewReader("x"), false)
	if !fault.Is(err, fault.KindNotFound) {
		t.Errorf("err = %v, want not found", err)
	}
}

func TestWriteFileOntoDirectory(t *testing.T) {
	r := newScope(t)
	if err := os.Mkdir(filepath.Join(r.Root(), "d"), 0o755); err != nil {
		t.Fatal(err)
	}
	_, err := WriteFile(r, "d", strings.NewReader("x"), true)
	if !fault.Is(err, fault.KindIsADirectory) {
		t.Errorf("err = %v, want is a directory", err)
	}
}

func TestWriteFileLeavesNoTempOnFailure(t *testing.T) {
	r := newScope(t)
	failing := io.MultiReader(strings.NewReader("partial"), &failReader{})
	if _, err := WriteFile(r, "f.txt", failing, false); err == nil {
		t.Fatal("expected error")
	}
	entries, err := os.ReadDir(r.Root())
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("leftovers after failed write: %v", entries)
	}
}

type failReader struct{}

func (*failReader) Read([]byte) (int, error) { return 0, io.ErrUnexpectedEOF }

func TestCreateFile(t *testing.T) {
	r := newScope(t)
	if err := CreateFile(r, "touch.txt"); err != nil {
		t.Fatal(err)
	}
	if err := CreateFile(r, "touch.txt"); !fault.Is(err, fault.KindAlreadyExists) {
		t.Errorf("second touch = %v, want already exists", err)
	}
}

func TestMkdir(t *testing.T) {
	r := newScope(t)
	if err := Mkdir(r, "d"); err != nil {
		t.Fatal(err)
	}
	if err := Mkdir(r, "d"); !fault.Is(err, fault.KindAlreadyExists) {
		t.Errorf("duplicate mkdir = %v", err)
	}
	if err := Mkdir(r, "no/parents"); !fault.Is(err, fault.KindNotFound) {
		t.Errorf("mkdir without parent = %v, want not found", err)
	}
	if err := Mkdir(r, "bad\x00name"); !fault.Is(err, fault.KindInvalidArgument) {
		t.Errorf("mkdir NUL = %v, want invalid argument", err)
	}
}

func TestDelete(t *testing.T) {
	r := newScope(t)
	mustWrite(t, r.Root(), "dir/f.txt", "x")

	if err := Delete(r, ""); !fault.Is(err, fault.KindForbidden) {
		t.Errorf("delete root = %v, want forbidden", err)
	}
	if err := Delete(r, "dir"); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(r.Root(), "dir")); !os.IsNotExist(err) {
		t.Error("directory still present")
	}
	if err := Delete(r, "dir"); !fault.Is(err, fault.KindNotFound) {
		t.Errorf("delete missing = %v, want not found", err)
	}
}

func TestMove(t *testing.T) {
	r := newScope(t)
	mustWrite(t, r.Root(), "a.txt", "content")
	mustWrite(t, r.Root(), "dst/keep.txt", "k")

	if err := Move(r, "a.txt", r, "dst/a.txt"); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(r.Root(), "a.txt")); !os.IsNotExist(err) {
		t.Error("source still present")
	}
	got, _ := os.ReadFile(filepath.Join(r.Root(), "dst", "a.txt"))
	if string(got) != "content" {
		t.Errorf("moved content = %q", got)
	}
}

func TestMoveCollision(t *testing.T) {
	r := newScope(t)
	mustWrite(t, r.Root(), "a.txt", "a")
	mustWrite(t, r.Root(), "b.txt", "b")
	if err := Move(r, "a.txt", r, "b.txt"); !fault.Is(err, fault.KindAlreadyExists) {
		t.Errorf("move onto existing = %v, want already exists", err)
	}
	got, _ := os.ReadFile(filepath.Join(r.Root(), "b.txt"))
	if string(got) != "b" {
		t.Errorf("destination clobbered: %q", got)
	}
}

func TestMoveDestinationParentMissing(t *testing.T) {
	r := newScope(t)
	mustWrite(t, r.Root(), "a.txt", "a")
	if err := Move(r, "a.txt", r, "ghost/a.txt"); !fault.Is(err, fault.KindNotFound) {
		t.Errorf("err = %v, want not found", err)
	}
}

func TestMoveAcrossScopes(t *testing.T) {
	src := newScope(t)
	dst := newScope(t)
	mustWrite(t, src.Root(), "deep/a.txt", "x")

	if err := Move(src, "deep", dst, "deep"); err != nil {
		t.Fatal(err)
	}
	got, err := os.ReadFile(filepath.Join(dst.Root(), "deep", "a.txt"))
	if err != nil || string(got) != "x" {
		t.Fatalf("content = %q, err %v", got, err)
	}
	if _, err := os.Stat(filepath.Join(src.Root(), "deep")); !os.IsNotExist(err) {
		t.Error("source tree still present")
	}
}

func TestCopyRecursive(t *testing.T) {
	r := newScope(t)
	mustWrite(t, r.Root(), "src/a.txt", "a")
	mustWrite(t, r.Root(), "src/sub/b.txt", "b")

	if err := Copy(r, "src", r, "dup"); err != nil {
		t.Fatal(err)
	}
	for rel, want := range map[string]string{
		"dup/a.txt":     "a",
		"dup/sub/b.txt": "b",
		"src/a.txt":     "a",
	} {
		got, err := os.ReadFile(filepath.Join(r.Root(), filepath.FromSlash(rel)))
		if err != nil || string(got) != want {
			t.Errorf("%s = %q, err %v", rel, got, err)
		}
	}

	if err := Copy(r, "src", r, "dup"); !fault.Is(err, fault.KindAlreadyExists) {
		t.Errorf("copy onto existing = %v, want already exists", err)
	}
}

func TestZipRoundTrip(t *testing.T) {
	r := newScope(t)
	mustWrite(t, r.Root(), "docs/a.txt", "alpha")
	mustWrite(t, r.Root(), "docs/sub/b.txt", "beta")
	mustWrite(t, r.Root(), "single.txt", "solo")

	var buf bytes.Buffer
	if err := Zip(context.Background(), r, []string{"docs", "single.txt"}, &buf); err != nil {
		t.Fatal(err)
	}

	zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	if err != nil {
		t.Fatal(err)
	}
	got := map[string]string{}
	for _, f := range zr.File {
		rc, err := f.Open()
		if err != nil {
			t.Fatal(err)
		}
		data, _ := io.ReadAll(rc)
		rc.Close()
		got[f.Name] = string(data)
	}
	want := map[string]string{
		"docs/a.txt":     "alpha",
		"docs/sub/b.txt": "beta",
		"single.txt":     "solo",
	}
	for name, content := range want {
		if got[name] != content {
			t.Errorf("%s = %q, want %q (have %v)", name, got[name], content, keys(got))
		}
	}
}

func TestZipMissing(t *testing.T) {
	r := newScope(t)
	var buf bytes.Buffer
	if err := Zip(context.Background(), r, []string{"ghost"}, &buf); !fault.Is(err, fault.KindNotFound) {
		t.Errorf("zip missing = %v, want not found", err)
	}
}

func keys(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func TestSearch(t *testing.T) {
	r := newScope(t)
	mustWrite(t, r.Root(), "docs/report-2026.pdf", "x")
	mustWrite(t, r.Root(), "docs/other.txt", "x")
	mustWrite(t, r.Root(), ".hidden/report-draft.pdf", "x")

	res, err := Search(context.Background(), r, "", "report")
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Items) != 2 {
		t.Fatalf("hits = %+v", res.Items)
	}
	// Visible tree scanned before hidden directories.
	if res.Items[0].Path != "docs/report-2026.pdf" {
		t.Errorf("first hit = %q", res.Items[0].Path)
	}
	if res.Items[1].Path != ".hidden/report-draft.pdf" {
		t.Errorf("second hit = %q", res.Items[1].Path)
	}
	if res.Truncated {
		t.Error("unexpected truncation")
	}
}

func TestSearchEmptyQuery(t *testing.T) {
	r := newScope(t)
	if _, err := Search(context.Background(), r, "", "  "); !fault.Is(err, fault.KindInvalidArgument) {
		t.Errorf("err = %v, want invalid argument", err)
	}
}

func TestSearchCaseInsensitive(t *testing.T) {
	r := newScope(t)
	mustWrite(t, r.Root(), "READ-ME.txt", "x")
	res, err := Search(context.Background(), r, "", "read-me")
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Items) != 1 {
		t.Errorf("hits = %+v", res.Items)
	}
}
