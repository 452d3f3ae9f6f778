package dataconv

import (
	"embed"
	"encoding/base64"
	"io/fs"
)

//go:embed templates
var embeddedTemplates embed.FS

// StarterTemplates exposes the bundled example templates, laid out as
// <format>/<name>.tpl. `dataconv init` copies them into a new template root;
// fsstore.WithFS can serve them directly.
func StarterTemplates() fs.FS {
	sub, err := fs.Sub(embeddedTemplates, "templates")
	if err != nil {
		return embeddedTemplates
	}
	return sub
}

func encode(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}
