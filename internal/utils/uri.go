package utils

import (
	"path"
	"strings"
)

// CleanURIPath normalizes the path of a request URI before inspection. The
// fragment is dropped and the path is cleaned, so "//admin" and
// "/static/../admin" are inspected as "/admin". The query is split off
// and returned separately.
func CleanURIPath(uri string) (string, string) {
	if i := strings.IndexByte(uri, '#'); i != -1 {
		uri = uri[:i]
	}
	p, args, _ := strings.Cut(uri, "?")
	if p == "" {
		return "/", args
	}

	cleaned := path.Clean(p)
	if !strings.HasPrefix(cleaned, "/") {
		cleaned = "/" + cleaned
	}
	// keep a trailing slash, it distinguishes a directory
	if strings.HasSuffix(p, "/") && cleaned != "/" {
		cleaned += "/"
	}
	return cleaned, args
}
