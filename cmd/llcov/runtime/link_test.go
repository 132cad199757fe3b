package runtime

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"golang.org/x/mod/modfile"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("MkdirAll failed: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
}

func readMod(t *testing.T, path string) *modfile.File {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	f, err := modfile.Parse(path, data, nil)
	if err != nil {
		t.Fatalf("generated go.mod does not parse: %v\n%s", err, data)
	}
	return f
}

func requireOf(f *modfile.File, path string) string {
	for _, r := range f.Require {
		if r.Mod.Path == path {
			return r.Mod.Version
		}
	}
	return ""
}

func replaceOf(f *modfile.File, path string) string {
	for _, r := range f.Replace {
		if r.Old.Path == path {
			return r.New.Path
		}
	}
	return ""
}

// TestFindModuleRoot tests locating the llcov checkout by module path.
func TestFindModuleRoot(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "go.mod"), "module "+ModulePath+"\n\ngo 1.24\n")

	// A nested user module must not be mistaken for llcov.
	nested := filepath.Join(root, "examples", "app")
	writeFile(t, filepath.Join(nested, "go.mod"), "module example.com/app\n")
	deep := filepath.Join(nested, "pkg", "sub")
	if err := os.MkdirAll(deep, 0o755); err != nil {
		t.Fatal(err)
	}

	got, err := findModuleRoot(deep)
	if err != nil {
		t.Fatalf("findModuleRoot failed: %v", err)
	}
	if got != root {
		t.Errorf("findModuleRoot = %q, want %q", got, root)
	}
}

// TestFindModuleRoot_NotFound tests the error when no checkout exists.
func TestFindModuleRoot_NotFound(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "go.mod"), "module example.com/other\n")

	_, err := findModuleRoot(dir)
	if !errors.Is(err, ErrModuleRootNotFound) {
		t.Errorf("expected ErrModuleRootNotFound, got %v", err)
	}
}

// TestFindProjectGoMod tests walking up to the project's go.mod.
func TestFindProjectGoMod(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "go.mod"), "module example.com/app\n")
	sub := filepath.Join(root, "cmd", "app")
	if err := os.MkdirAll(sub, 0o755); err != nil {
		t.Fatal(err)
	}

	if got := FindProjectGoMod(sub); got != filepath.Join(root, "go.mod") {
		t.Errorf("FindProjectGoMod = %q", got)
	}
}

// TestModFileOverlay_Standalone tests a workspace without a project go.mod.
func TestModFileOverlay_Standalone(t *testing.T) {
	tempDir := t.TempDir()

	path, err := ModFileOverlay(tempDir, "", "/opt/llcov")
	if err != nil {
		t.Fatalf("ModFileOverlay failed: %v", err)
	}

	f := readMod(t, path)
	if f.Module.Mod.Path != WorkspaceModule {
		t.Errorf("module = %q, want %q", f.Module.Mod.Path, WorkspaceModule)
	}
	if f.Go == nil || f.Go.Version != defaultGoVersion {
		t.Errorf("go version = %+v, want %s", f.Go, defaultGoVersion)
	}
	if v := requireOf(f, ModulePath); v != "v0.0.0" {
		t.Errorf("llcov require = %q, want v0.0.0", v)
	}
	if r := replaceOf(f, ModulePath); r != "/opt/llcov" {
		t.Errorf("llcov replace = %q, want /opt/llcov", r)
	}
}

// TestModFileOverlay_Published tests requiring the released runtime when no
// checkout is available.
func TestModFileOverlay_Published(t *testing.T) {
	path, err := ModFileOverlay(t.TempDir(), "", "")
	if err != nil {
		t.Fatalf("ModFileOverlay failed: %v", err)
	}

	f := readMod(t, path)
	if v := requireOf(f, ModulePath); !strings.HasPrefix(v, "v0.") || v == "v0.0.0" {
		t.Errorf("llcov require = %q, want released version", v)
	}
	if len(f.Replace) != 0 {
		t.Errorf("unexpected replaces: %d", len(f.Replace))
	}
}

// TestModFileOverlay_ProjectModule tests carrying over the project's
// requirements and making its local replacements absolute.
func TestModFileOverlay_ProjectModule(t *testing.T) {
	project := t.TempDir()
	writeFile(t, filepath.Join(project, "go.mod"), `module example.com/app

go 1.23

require (
	github.com/rs/zerolog v1.34.0
	example.com/shared v0.0.0
)

replace example.com/shared => ../shared
`)
	src := filepath.Join(project, "cmd", "app")
	if err := os.MkdirAll(src, 0o755); err != nil {
		t.Fatal(err)
	}

	path, err := ModFileOverlay(t.TempDir(), src, "/opt/llcov")
	if err != nil {
		t.Fatalf("ModFileOverlay failed: %v", err)
	}

	f := readMod(t, path)
	if f.Go.Version != "1.23" {
		t.Errorf("go version = %q, want 1.23", f.Go.Version)
	}
	if v := requireOf(f, "github.com/rs/zerolog"); v != "v1.34.0" {
		t.Errorf("zerolog require = %q", v)
	}
	if r := replaceOf(f, "example.com/app"); r != project {
		t.Errorf("project replace = %q, want %q", r, project)
	}

	wantShared, _ := filepath.Abs(filepath.Join(project, "..", "shared"))
	if r := replaceOf(f, "example.com/shared"); r != wantShared {
		t.Errorf("shared replace = %q, want %q", r, wantShared)
	}
	if r := replaceOf(f, ModulePath); r != "/opt/llcov" {
		t.Errorf("llcov replace = %q", r)
	}
}

// TestModFileOverlay_LocalCheckoutWins tests that the project's own
// replacement of llcov gives way to the local checkout.
func TestModFileOverlay_LocalCheckoutWins(t *testing.T) {
	project := t.TempDir()
	writeFile(t, filepath.Join(project, "go.mod"), `module example.com/app

go 1.24

replace github.com/kolkov/llcov => ./vendor/llcov
`)

	path, err := ModFileOverlay(t.TempDir(), project, "/opt/llcov")
	if err != nil {
		t.Fatalf("ModFileOverlay failed: %v", err)
	}

	f := readMod(t, path)
	count := 0
	for _, r := range f.Replace {
		if r.Old.Path == ModulePath {
			count++
			if r.New.Path != "/opt/llcov" {
				t.Errorf("llcov replace = %q, want /opt/llcov", r.New.Path)
			}
		}
	}
	if count != 1 {
		t.Errorf("llcov replaced %d times, want 1", count)
	}
}

// TestModFileOverlay_BadProjectMod tests that a broken project go.mod is
// reported.
func TestModFileOverlay_BadProjectMod(t *testing.T) {
	project := t.TempDir()
	writeFile(t, filepath.Join(project, "go.mod"), "module\nrequire (\n")

	if _, err := ModFileOverlay(t.TempDir(), project, ""); err == nil {
		t.Error("expected parse error")
	}
}

// TestModFileMirror tests the go.mod of a mirrored project tree.
func TestModFileMirror(t *testing.T) {
	project := t.TempDir()
	goMod := filepath.Join(project, "go.mod")
	writeFile(t, goMod, `module example.com/app

go 1.23

require example.com/shared v0.0.0

replace example.com/shared => ../shared

replace example.com/pinned => example.com/fork v1.2.0
`)

	dst := t.TempDir()
	path, err := ModFileMirror(dst, goMod, "/opt/llcov")
	if err != nil {
		t.Fatalf("ModFileMirror failed: %v", err)
	}
	if path != filepath.Join(dst, "go.mod") {
		t.Errorf("path = %q", path)
	}

	f := readMod(t, path)
	if f.Module.Mod.Path != "example.com/app" {
		t.Errorf("module = %q, want example.com/app", f.Module.Mod.Path)
	}
	if f.Go.Version != "1.23" {
		t.Errorf("go version = %q", f.Go.Version)
	}

	wantShared, _ := filepath.Abs(filepath.Join(project, "..", "shared"))
	if r := replaceOf(f, "example.com/shared"); r != wantShared {
		t.Errorf("shared replace = %q, want %q", r, wantShared)
	}
	if r := replaceOf(f, "example.com/pinned"); r != "example.com/fork" {
		t.Errorf("module replace changed: %q", r)
	}
	if r := replaceOf(f, ModulePath); r != "/opt/llcov" {
		t.Errorf("llcov replace = %q", r)
	}
	if len(f.Replace) != 3 {
		t.Errorf("replaces = %d, want 3", len(f.Replace))
	}
}

// TestModFileMirror_Errors tests modules that cannot be mirrored.
func TestModFileMirror_Errors(t *testing.T) {
	tests := []struct {
		name  string
		gomod string
	}{
		{"no module", "go 1.24\n"},
		{"llcov itself", "module " + ModulePath + "\n"},
		{"malformed", "module\nrequire (\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			goMod := filepath.Join(t.TempDir(), "go.mod")
			writeFile(t, goMod, tt.gomod)
			if _, err := ModFileMirror(t.TempDir(), goMod, ""); err == nil {
				t.Error("expected error")
			}
		})
	}
}

// TestModulePathOf tests reading the module directive.
func TestModulePathOf(t *testing.T) {
	goMod := filepath.Join(t.TempDir(), "go.mod")
	writeFile(t, goMod, "// comment\nmodule example.com/app\n\ngo 1.24\n")

	if got := ModulePathOf(goMod); got != "example.com/app" {
		t.Errorf("ModulePathOf = %q", got)
	}
	if got := ModulePathOf(filepath.Join(t.TempDir(), "missing")); got != "" {
		t.Errorf("ModulePathOf(missing) = %q", got)
	}
}

// TestIsLocalPath tests local path detection.
func TestIsLocalPath(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"./foo", true},
		{"../foo", true},
		{".", true},
		{"..", true},
		{"/abs/path", true},
		{"C:\\code", true},
		{"github.com/foo/bar", false},
		{"example.com/shared", false},
	}

	for _, tt := range tests {
		if got := isLocalPath(tt.path); got != tt.want {
			t.Errorf("isLocalPath(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}
