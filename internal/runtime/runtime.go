// Package runtime embeds the support files every staged project needs: the
// live-reload client and the fallback HTML shell served when the browser
// bundle ships no index page.
package runtime

import (
	"embed"
	"io/fs"

	"github.com/spf13/afero"
)

// Dir is the directory, relative to the staged source root, that holds the
// runtime support files.
const Dir = "__stagehand__"

// ReloadScript and Shell are paths relative to the staged source root.
const (
	ReloadScript = Dir + "/reload.js"
	Shell        = Dir + "/shell.html"
)

//go:embed all:files
var files embed.FS

// FS returns the embedded runtime support files rooted at the staged source
// root layout.
func FS() fs.FS {
	sub, err := fs.Sub(files, "files")
	if err != nil {
		// The embed directive guarantees "files" exists.
		panic(err)
	}
	return sub
}

// Afero exposes the embedded files as a read-only afero filesystem so they can
// be copied with the same helpers as on-disk trees.
func Afero() afero.Fs {
	return afero.FromIOFS{FS: FS()}
}

// ReadReloadScript returns the embedded live-reload client.
func ReadReloadScript() ([]byte, error) {
	return fs.ReadFile(FS(), ReloadScript)
}
