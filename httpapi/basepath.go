package httpapi

import "strings"

func normalizeBasePath(value string) string {
	path := strings.TrimSpace(value)
	if path == "" || path == "/" {
		return ""
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	path = strings.TrimRight(path, "/")
	if path == "/" {
		return ""
	}
	return path
}

// joinBasePath prefixes an absolute API path with the normalized base path.
func joinBasePath(basePath, path string) string {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return normalizeBasePath(basePath) + path
}
