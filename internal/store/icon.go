package store

import "encoding/base64"

// defaultIconBase64 is a 1x1 transparent PNG, used whenever a manifest
// omits an icon or its declared icon file is missing. A decoded literal
// instead of a go:embed file so the module carries no binary asset on
// disk.
const defaultIconBase64 = "iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAYAAAAfFcSJAAAADUlEQVR42mNk+A8AAQUBAScY42YAAAAASUVORK5CYII="

var defaultIconPNG = mustDecodeIcon(defaultIconBase64)

func mustDecodeIcon(encoded string) []byte {
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		panic("store: invalid embedded default icon: " + err.Error())
	}
	return data
}
