package deploy

import (
	"archive/zip"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// Directories that never belong in a deployment bundle.
var archiveSkipDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
	"__pycache__":  true,
}

// PackageProject zips the project directory into a fresh archive under the
// system temp directory and returns the archive path. The archive is never
// placed inside the project directory, so no failure mode can leave
// packaging artifacts in the generated project. Removal is the caller's
// responsibility.
func PackageProject(projectDir, app string) (string, error) {
	info, err := os.Stat(projectDir)
	if err != nil {
		return "", fmt.Errorf("packaging %s: %w", projectDir, err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("packaging %s: not a directory", projectDir)
	}

	archive, err := os.CreateTemp("", app+"-deploy-*.zip")
	if err != nil {
		return "", fmt.Errorf("creating archive: %w", err)
	}

	if err := writeArchive(archive, projectDir); err != nil {
		_ = archive.Close()
		_ = os.Remove(archive.Name())
		return "", err
	}
	if err := archive.Close(); err != nil {
		_ = os.Remove(archive.Name())
		return "", fmt.Errorf("closing archive: %w", err)
	}
	return archive.Name(), nil
}

func writeArchive(w io.Writer, projectDir string) error {
	zw := zip.NewWriter(w)

	err := filepath.WalkDir(projectDir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() {
			if archiveSkipDirs[entry.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if !entry.Type().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(projectDir, path)
		if err != nil {
			return err
		}
		dst, err := zw.Create(filepath.ToSlash(rel))
		if err != nil {
			return err
		}
		src, err := os.Open(path)
		if err != nil {
			return err
		}
		_, err = io.Copy(dst, src)
		_ = src.Close()
		return err
	})
	if err != nil {
		_ = zw.Close()
		return fmt.Errorf("packaging project: %w", err)
	}
	return zw.Close()
}
