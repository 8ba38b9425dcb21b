package translator

import (
	"fmt"
	"strings"
)

var extByType = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

var typeByExt = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".webp": "image/webp",
}

// inferContentType guesses a MIME type from a data-URI prefix or a URL
// extension, defaulting to PNG.
func inferContentType(url string) string {
	if strings.HasPrefix(url, "data:") {
		rest := url[len("data:"):]
		if i := strings.IndexAny(rest, ";,"); i > 0 {
			return rest[:i]
		}
		return "image/png"
	}

	clean := url
	if i := strings.IndexAny(clean, "?#"); i >= 0 {
		clean = clean[:i]
	}
	if i := strings.LastIndex(clean, "."); i >= 0 {
		if ct, ok := typeByExt[strings.ToLower(clean[i:])]; ok {
			return ct
		}
	}
	return "image/png"
}

func extensionFor(contentType string) string {
	if ext, ok := extByType[contentType]; ok {
		return ext
	}
	return ".png"
}

func fileNameForURL(url string, index int) string {
	return fmt.Sprintf("image_%d%s", index, extensionFor(inferContentType(url)))
}
