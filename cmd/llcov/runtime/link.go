// Package runtime provides runtime library linking for instrumented code.
//
// Instrumented files import the coverage runtime (package cover of the
// llcov module). They are built in a temporary workspace whose go.mod is
// generated here: it requires the llcov module (pointing at a local
// checkout when one is found), the instrumented project's own
// requirements and replacements, and the instrumented project itself so
// that imports of its other packages keep resolving.
package runtime

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"golang.org/x/mod/modfile"

	"github.com/kolkov/llcov/cover"
)

const (
	// ModulePath is the module providing the coverage runtime.
	ModulePath = "github.com/kolkov/llcov"

	// PackagePath is the import path of the coverage runtime.
	PackagePath = ModulePath + "/cover"

	// WorkspaceModule is the module name of the generated go.mod.
	WorkspaceModule = "instrumented"

	defaultGoVersion = "1.24"
)

// ErrModuleRootNotFound is returned by FindModuleRoot when no llcov
// checkout is reachable.
var ErrModuleRootNotFound = errors.New("could not find llcov module root")

// FindModuleRoot finds a local checkout of the llcov module.
//
// It walks up from the working directory and from the directory of the
// running executable, accepting the first directory whose go.mod declares
// ModulePath. We don't just look for any go.mod because that would match
// the user's project.
func FindModuleRoot() (string, error) {
	var starts []string
	if cwd, err := os.Getwd(); err == nil {
		starts = append(starts, cwd)
	}
	if exe, err := os.Executable(); err == nil {
		starts = append(starts, filepath.Dir(exe))
	}
	return findModuleRoot(starts...)
}

func findModuleRoot(starts ...string) (string, error) {
	for _, start := range starts {
		for dir := start; ; {
			if ModulePathOf(filepath.Join(dir, "go.mod")) == ModulePath {
				return dir, nil
			}
			parent := filepath.Dir(dir)
			if parent == dir {
				break
			}
			dir = parent
		}
	}
	return "", ErrModuleRootNotFound
}

// ModulePathOf returns the module path declared by the go.mod at path,
// or "" if it cannot be read.
func ModulePathOf(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return modfile.ModulePath(data)
}

// FindProjectGoMod finds the go.mod file of the project being instrumented.
//
// This walks up from the given directory looking for go.mod file.
// This is different from FindModuleRoot which finds llcov's root.
// Returns "" if there is none.
func FindProjectGoMod(startDir string) string {
	dir := startDir
	for {
		modPath := filepath.Join(dir, "go.mod")
		if _, err := os.Stat(modPath); err == nil {
			return modPath
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return ""
}

// ModFileOverlay writes the workspace go.mod into tempDir.
//
// Parameters:
//   - tempDir: Workspace root; go.mod is written there
//   - sourceDir: Directory of the instrumented sources (to find the
//     project's go.mod); may be empty
//   - llcovRoot: Local llcov checkout from FindModuleRoot; empty to use the
//     published module at the runtime's version
//
// Returns:
//   - Path to the written go.mod
//   - Error if the project's go.mod cannot be parsed or writing fails
func ModFileOverlay(tempDir, sourceDir, llcovRoot string) (string, error) {
	f := new(modfile.File)
	if err := f.AddModuleStmt(WorkspaceModule); err != nil {
		return "", fmt.Errorf("failed to set module: %w", err)
	}

	goVersion := defaultGoVersion
	var original *modfile.File
	if sourceDir != "" {
		if path := FindProjectGoMod(sourceDir); path != "" {
			var err error
			original, err = parseGoMod(path)
			if err != nil {
				return "", err
			}
			if original.Go != nil {
				goVersion = original.Go.Version
			}
			if err := copyRequirements(f, original, filepath.Dir(path)); err != nil {
				return "", err
			}
		}
	}
	if err := f.AddGoStmt(goVersion); err != nil {
		return "", fmt.Errorf("failed to set go version: %w", err)
	}

	selfHosted := original != nil && original.Module != nil && original.Module.Mod.Path == ModulePath
	if !selfHosted {
		if err := addRuntime(f, llcovRoot); err != nil {
			return "", err
		}
	}

	f.Cleanup()
	data, err := f.Format()
	if err != nil {
		return "", fmt.Errorf("failed to format go.mod: %w", err)
	}

	goModPath := filepath.Join(tempDir, "go.mod")
	if err := os.WriteFile(goModPath, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to create go.mod: %w", err)
	}
	return goModPath, nil
}

func parseGoMod(path string) (*modfile.File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	f, err := modfile.Parse(path, data, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return f, nil
}

// copyRequirements carries the project's module, requirements and
// replacements into the workspace go.mod. Local replacement paths are made
// absolute relative to goModDir.
func copyRequirements(dst, src *modfile.File, goModDir string) error {
	if src.Module != nil && src.Module.Mod.Path != "" {
		self := src.Module.Mod.Path
		if err := dst.AddRequire(self, "v0.0.0"); err != nil {
			return fmt.Errorf("failed to require %s: %w", self, err)
		}
		if err := dst.AddReplace(self, "", goModDir, ""); err != nil {
			return fmt.Errorf("failed to replace %s: %w", self, err)
		}
	}

	for _, req := range src.Require {
		if err := dst.AddRequire(req.Mod.Path, req.Mod.Version); err != nil {
			return fmt.Errorf("failed to require %s: %w", req.Mod.Path, err)
		}
	}

	for _, rep := range src.Replace {
		newPath := rep.New.Path
		if rep.New.Version == "" {
			newPath = absLocalPath(goModDir, newPath)
		}
		if err := dst.AddReplace(rep.Old.Path, rep.Old.Version, newPath, rep.New.Version); err != nil {
			return fmt.Errorf("failed to replace %s: %w", rep.Old.Path, err)
		}
	}
	return nil
}

// ModFileMirror writes into dstDir a copy of the project go.mod at
// goModPath that additionally requires the llcov runtime. The project keeps
// its module path, so a mirrored source tree under dstDir builds as the
// project itself. Local replacement paths are made absolute.
//
// Returns the path to the written go.mod.
func ModFileMirror(dstDir, goModPath, llcovRoot string) (string, error) {
	f, err := parseGoMod(goModPath)
	if err != nil {
		return "", err
	}
	if f.Module == nil || f.Module.Mod.Path == "" {
		return "", fmt.Errorf("%s has no module directive", goModPath)
	}
	if f.Module.Mod.Path == ModulePath {
		return "", fmt.Errorf("cannot instrument %s with itself", ModulePath)
	}

	goModDir := filepath.Dir(goModPath)
	for _, rep := range slices.Clone(f.Replace) {
		if rep.New.Version != "" {
			continue
		}
		abs := absLocalPath(goModDir, rep.New.Path)
		if abs == rep.New.Path {
			continue
		}
		if err := f.AddReplace(rep.Old.Path, rep.Old.Version, abs, ""); err != nil {
			return "", fmt.Errorf("failed to replace %s: %w", rep.Old.Path, err)
		}
	}

	if err := addRuntime(f, llcovRoot); err != nil {
		return "", err
	}

	f.Cleanup()
	data, err := f.Format()
	if err != nil {
		return "", fmt.Errorf("failed to format go.mod: %w", err)
	}

	path := filepath.Join(dstDir, "go.mod")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to create go.mod: %w", err)
	}
	return path, nil
}

// absLocalPath resolves a relative local replacement path against dir.
// Module paths and absolute paths are returned unchanged.
func absLocalPath(dir, path string) string {
	if !isLocalPath(path) || filepath.IsAbs(path) {
		return path
	}
	abs, err := filepath.Abs(filepath.Join(dir, path))
	if err != nil {
		return path
	}
	return abs
}

// addRuntime requires the llcov module, from a local checkout if given.
func addRuntime(f *modfile.File, llcovRoot string) error {
	if llcovRoot == "" {
		if err := f.AddRequire(ModulePath, "v"+cover.Version); err != nil {
			return fmt.Errorf("failed to require %s: %w", ModulePath, err)
		}
		return nil
	}

	// A project replacement of the llcov module is overridden by the
	// local checkout.
	_ = f.DropReplace(ModulePath, "")
	if err := f.AddRequire(ModulePath, "v0.0.0"); err != nil {
		return fmt.Errorf("failed to require %s: %w", ModulePath, err)
	}
	if err := f.AddReplace(ModulePath, "", llcovRoot, ""); err != nil {
		return fmt.Errorf("failed to replace %s: %w", ModulePath, err)
	}
	return nil
}

// isLocalPath checks if a path is a local filesystem path (not a module path).
//
// Local paths start with ./, ../, /, or a drive letter on Windows.
func isLocalPath(path string) bool {
	if strings.HasPrefix(path, "./") || strings.HasPrefix(path, "../") {
		return true
	}
	if path == "." || path == ".." {
		return true
	}
	if filepath.IsAbs(path) {
		return true
	}
	// Windows drive letter check (e.g., C:\)
	if len(path) >= 2 && path[1] == ':' {
		return true
	}
	return false
}
