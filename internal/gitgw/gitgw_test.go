package gitgw

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"
)

func initTestRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	run := func(args ...string) {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		if out, err := cmd.CombinedOutput(); err != nil {
			t.Fatalf("git %v: %v (%s)", args, err, out)
		}
	}
	run("init", "-b", "main")
	run("config", "user.email", "test@example.com")
	run("config", "user.name", "Test")
	if err := os.WriteFile(filepath.Join(dir, "README.md"), []byte("hello\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	run("add", "-A")
	run("commit", "-m", "chore(init): seed repo")
	return dir
}

func TestValidateMessage(t *testing.T) {
	cases := map[string]bool{
		"feat(checkout): add payment step":  true,
		"fix(api): handle nil pointer":      true,
		"oops no grammar at all":            false,
		"feat: missing scope":               false,
		"feat(checkout) missing colon stuff": false,
	}
	for msg, want := range cases {
		err := ValidateMessage(msg)
		if (err == nil) != want {
			t.Errorf("ValidateMessage(%q) = %v, want valid=%v", msg, err, want)
		}
	}
}

func TestOpenRefusesSourceTree(t *testing.T) {
	dir := initTestRepo(t)
	if err := os.MkdirAll(filepath.Join(dir, "internal", "coordinator"), 0o755); err != nil {
		t.Fatal(err)
	}
	if _, err := Open(dir); err == nil {
		t.Fatal("expected Open to refuse a tree containing GAO-Dev source markers")
	}
}

func TestCommitAndStatus(t *testing.T) {
	dir := initTestRepo(t)
	gw, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	clean, err := gw.IsClean()
	if err != nil || !clean {
		t.Fatalf("expected clean tree after init, clean=%v err=%v", clean, err)
	}

	if err := os.WriteFile(filepath.Join(dir, "docs.md"), []byte("content\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := gw.StageAll(); err != nil {
		t.Fatalf("StageAll: %v", err)
	}
	sha, err := gw.Commit("docs(checkout): initialize epic 1 (Level 3)", "GAO-Dev", "gao-dev@example.com", nil)
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if sha == "" {
		t.Fatal("expected non-empty commit sha")
	}

	clean, err = gw.IsClean()
	if err != nil || !clean {
		t.Fatalf("expected clean tree after commit, clean=%v err=%v", clean, err)
	}
}

func TestCommitRejectsBadGrammar(t *testing.T) {
	dir := initTestRepo(t)
	gw, _ := Open(dir)
	if _, err := gw.Commit("not conventional at all", "", "", nil); err == nil {
		t.Fatal("expected commit with malformed message to be rejected before shelling out to git")
	}
}
