// Package web embeds the landing page and its static assets.
package web

import (
	"embed"
	"io/fs"
)

//go:embed site
var siteFS embed.FS

// Site returns the landing page tree: index.html at the root and assets
// under static/.
func Site() fs.FS {
	sub, err := fs.Sub(siteFS, "site")
	if err != nil {
		panic(err)
	}
	return sub
}
