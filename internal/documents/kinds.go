package documents

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// DefaultExtensions are the accepted document, image and text kinds.
var DefaultExtensions = []string{".pdf", ".png", ".jpg", ".jpeg", ".txt"}

// sniffed lists the content types an extension may carry. Extensions not in
// the table are checked by name only.
var sniffed = map[string][]string{
	".pdf":  {"application/pdf"},
	".png":  {"image/png"},
	".jpg":  {"image/jpeg"},
	".jpeg": {"image/jpeg"},
	".txt":  {"text/plain"},
}

func normalizeExtensions(exts []string) map[string]struct{} {
	if len(exts) == 0 {
		exts = DefaultExtensions
	}
	out := make(map[string]struct{}, len(exts))
	for _, ext := range exts {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		out[ext] = struct{}{}
	}
	return out
}

// checkKind validates name against the allow-list and data against the
// content types its extension implies. It returns the detected type.
func checkKind(name string, data []byte, allowed map[string]struct{}) (string, error) {
	ext := strings.ToLower(filepath.Ext(name))
	if _, ok := allowed[ext]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedType, ext)
	}
	detected := mimetype.Detect(data)
	expected, ok := sniffed[ext]
	if !ok {
		return detected.String(), nil
	}
	for mt := detected; mt != nil; mt = mt.Parent() {
		for _, want := range expected {
			if mt.Is(want) {
				return detected.String(), nil
			}
		}
	}
	return "", fmt.Errorf("%w: %s content does not match %s", ErrUnsupportedType, detected.String(), ext)
}
