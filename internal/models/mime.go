package models

import "strings"

// Supported delivery MIME types.
const (
	MimeJavaScript = "application/javascript"
	MimeCSS        = "text/css"
	MimeZip        = "application/zip"
)

// Fixed extension table. The MIME type feeds the cache key, so it must not
// depend on the host's mime.types database.
var mimeByExt = map[string]string{
	".js":  MimeJavaScript,
	".css": MimeCSS,
	".zip": MimeZip,
}

// MimeTypeForExt returns the MIME type for an output extension such as
// ".js" or ".min.js". Only the final extension is considered.
func MimeTypeForExt(ext string) (string, bool) {
	if i := strings.LastIndex(ext, "."); i > 0 {
		ext = ext[i:]
	}
	mt, ok := mimeByExt[strings.ToLower(ext)]
	return mt, ok
}

// SourceExtForMime returns the module file extension used when building
// the given delivery type. Archives bundle scripts.
func SourceExtForMime(mimeType string) string {
	if mimeType == MimeCSS {
		return ".css"
	}
	return ".js"
}
