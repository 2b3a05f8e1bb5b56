package protocol

import (
	"bytes"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html/charset"
)

var errNoWorkerScript = errors.New("no <script> loads " + scriptPath)

// checkBootstrap verifies that a bootstrap document pulls in the dynamic
// script entry point, either relative to the instance root or absolute.
func checkBootstrap(doc []byte) error {
	reader, err := charset.NewReader(bytes.NewReader(doc), MimeHTML+"; charset="+detectCharset(doc))
	if err != nil {
		return fmt.Errorf("failed to decode bootstrap: %w", err)
	}
	parsed, err := goquery.NewDocumentFromReader(reader)
	if err != nil {
		return fmt.Errorf("failed to parse bootstrap: %w", err)
	}

	found := false
	parsed.Find("script[src]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		src, _ := s.Attr("src")
		src, _, _ = strings.Cut(src, "?")
		if path.Clean("/"+strings.TrimPrefix(src, "./")) == scriptPath {
			found = true
		}
		return !found
	})
	if !found {
		return errNoWorkerScript
	}
	return nil
}
