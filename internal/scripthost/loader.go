package scripthost

import (
	"bytes"
	"errors"
	"fmt"
	"mime"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/gabriel-vasile/mimetype"
	"github.com/saintfish/chardet"
	"golang.org/x/net/html/charset"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

var (
	ErrBinaryScript    = errors.New("script resource is not text")
	ErrUnknownEncoding = errors.New("script encoding is not supported")
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// ReadScript reads the whole script resource and returns it as UTF-8 text.
// Non-UTF-8 sources are decoded using their BOM, the charset sniffed by
// mimetype, or a chardet guess, in that order.
func ReadScript(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", &ScriptLoadError{Path: path, Err: err}
	}

	src, err := decodeScript(data)
	if err != nil {
		return "", &ScriptLoadError{Path: path, Err: err}
	}
	return src, nil
}

func decodeScript(data []byte) (string, error) {
	mtype := mimetype.Detect(data)
	if !isText(mtype) {
		return "", fmt.Errorf("%w: detected %s", ErrBinaryScript, mtype.String())
	}

	if utf8.Valid(data) {
		return string(bytes.TrimPrefix(data, utf8BOM)), nil
	}

	label := charsetParam(mtype)
	if label == "" || strings.EqualFold(label, "utf-8") {
		label = detectCharset(data)
	}

	enc, name := charset.Lookup(label)
	if enc == nil {
		return "", fmt.Errorf("%w: %q", ErrUnknownEncoding, label)
	}

	decoded, _, err := transform.Bytes(unicode.BOMOverride(enc.NewDecoder()), data)
	if err != nil {
		return "", fmt.Errorf("failed to decode %s: %w", name, err)
	}
	return string(decoded), nil
}

// isText walks the mimetype hierarchy; every text format descends from text/plain
func isText(mtype *mimetype.MIME) bool {
	for m := mtype; m != nil; m = m.Parent() {
		if m.Is("text/plain") {
			return true
		}
	}
	return false
}

func charsetParam(mtype *mimetype.MIME) string {
	_, params, err := mime.ParseMediaType(mtype.String())
	if err != nil {
		return ""
	}
	return params["charset"]
}

// detectCharset guesses the encoding of text without a usable declaration
func detectCharset(data []byte) string {
	result, err := chardet.NewTextDetector().DetectBest(data)
	if err != nil || result == nil {
		return "windows-1252"
	}
	return strings.ToLower(result.Charset)
}
