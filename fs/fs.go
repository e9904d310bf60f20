// Package appfs embeds the files the binaries need at runtime: SQL migrations and email templates.
package appfs

import (
	"embed"
	"io/fs"
	"path"
)

//go:embed migrations/*.sql templates/email/*
var FS embed.FS

// List returns the paths of the regular files directly under dir.
func List(dir string) ([]string, error) {
	entries, err := fs.ReadDir(FS, dir)
	if err != nil {
		return nil, err
	}
	paths := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			paths = append(paths, path.Join(dir, e.Name()))
		}
	}
	return paths, nil
}
