// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package kataweights

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/ianaindex"
)

// fallbackBaseName is used when the block count cannot be determined.
const fallbackBaseName = "my_model"

var (
	reNameBlock = regexp.MustCompile(`(?i)b([0-9]{1,2})c[0-9]{2,3}[^0-9]`)
	reExtension = regexp.MustCompile(`(?i)(bin\.gz|txt\.gz|bin|txt|gz)$`)
)

// ModelNameFromURL returns the percent-decoded last path segment of rawURL
// with any query string removed.
func ModelNameFromURL(rawURL string) string {
	seg := rawURL
	if i := strings.LastIndex(seg, "/"); i >= 0 {
		seg = seg[i+1:]
	}
	if i := strings.Index(seg, "?"); i >= 0 {
		seg = seg[:i]
	}
	if dec, err := url.PathUnescape(seg); err == nil {
		return dec
	}
	return seg
}

// BlockFromName extracts the block count from a network file name such as
// "kata1-b18c384nbt-s123-d456.bin.gz". It returns 0 when none is found.
func BlockFromName(name string) int {
	b := group1(reNameBlock, name)
	if b == "" {
		return 0
	}
	n, _ := strconv.Atoi(b)
	return n
}

// BaseName is "<block>b", or "my_model" when block is unknown.
func BaseName(block int) string {
	if block <= 0 {
		return fallbackBaseName
	}
	return fmt.Sprintf("%db", block)
}

// Extension returns the weight extension of name. When none is recognized it
// returns "gz" and false.
func Extension(name string) (string, bool) {
	if ext := group1(reExtension, name); ext != "" {
		return ext, true
	}
	return "gz", false
}

// FilenameFromDisposition extracts the file name from a Content-Disposition
// header value. It understands both filename= and the RFC 5987
// filename*=<charset>'<lang>'<value> form, whichever appears first.
func FilenameFromDisposition(cd string) string {
	for _, part := range strings.Split(cd, ";") {
		part = strings.TrimSpace(part)
		switch {
		case strings.HasPrefix(part, "filename="):
			v := strings.Trim(strings.TrimPrefix(part, "filename="), `"`)
			return latin1ToUTF8(v)
		case strings.HasPrefix(part, "filename*="):
			return decodeExtValue(strings.Trim(strings.TrimPrefix(part, "filename*="), `"`))
		}
	}
	return ""
}

// latin1ToUTF8 keeps valid UTF-8 as is and reads anything else as ISO-8859-1.
func latin1ToUTF8(s string) string {
	if utf8.ValidString(s) {
		return s
	}
	out, err := charmap.ISO8859_1.NewDecoder().String(s)
	if err != nil {
		return s
	}
	return out
}

// decodeExtValue decodes charset'lang'percent-encoded.
func decodeExtValue(v string) string {
	parts := strings.Split(v, "'")
	charset := parts[0]
	value := parts[len(parts)-1]

	raw, err := url.PathUnescape(value)
	if err != nil {
		return value
	}
	enc := lookupCharset(charset)
	if enc == nil {
		return strings.ToValidUTF8(raw, "�")
	}
	out, err := enc.NewDecoder().String(raw)
	if err != nil {
		return strings.ToValidUTF8(raw, "�")
	}
	return out
}

// lookupCharset returns nil for UTF-8, empty or unknown charsets.
func lookupCharset(name string) encoding.Encoding {
	name = strings.TrimSpace(name)
	if name == "" || strings.EqualFold(name, "utf-8") || strings.EqualFold(name, "utf8") {
		return nil
	}
	enc, err := ianaindex.IANA.Encoding(name)
	if err != nil {
		return nil
	}
	return enc
}

// Describe derives the local naming of the file behind modelURL. block is the
// count already known from the selector (0 if none). When the URL does not
// reveal the block, the remote Content-Disposition is consulted.
func (r *Resolver) Describe(ctx context.Context, modelURL string, block int) (Target, error) {
	t := Target{URL: modelURL, ModelName: ModelNameFromURL(modelURL), Block: block}

	if t.Block == 0 {
		t.Block = BlockFromName(t.ModelName)
	}
	if t.Block == 0 {
		h, err := r.c.headers(ctx, modelURL)
		if err != nil {
			return t, err
		}
		if name := FilenameFromDisposition(h.Get("Content-Disposition")); name != "" {
			t.ModelName = name
			t.Block = BlockFromName(name)
		}
	}

	t.BaseName = BaseName(t.Block)
	ext, ok := Extension(t.ModelName)
	t.Extension = ext
	if !ok {
		r.c.emit(ProgressEvent{
			Level:   "warn",
			Event:   "warn",
			URL:     modelURL,
			Message: ErrExtensionUnrecognized.Error() + ". The extension has been changed to gz, which may cause an error.",
		})
	}
	return t, nil
}
