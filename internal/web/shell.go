package web

import (
	"embed"
	"io/fs"
	"net/http"
)

// CacheName is the current asset bucket. Bump it when the shell changes.
const CacheName = "chef-ai-v2"

// ShellAssets are the paths installed into the asset cache.
var ShellAssets = []string{
	"/",
	"/index.html",
	"/manifest.json",
	"/app.js",
	"/sw.js",
}

//go:embed static
var static embed.FS

// Shell returns the embedded app shell rooted at its top directory.
func Shell() fs.FS {
	sub, err := fs.Sub(static, "static")
	if err != nil {
		panic(err)
	}
	return sub
}

// ShellServer serves the embedded shell straight from the binary. It is the
// network fallback behind the asset cache.
func ShellServer() http.Handler {
	return http.FileServer(http.FS(Shell()))
}
