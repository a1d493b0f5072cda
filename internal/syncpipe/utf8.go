package syncpipe

import (
	"fmt"
	"unicode/utf8"
)

func isValidUTF8(b []byte) bool { return utf8.Valid(b) }

func quoteBytes(b []byte) string { return fmt.Sprintf("%q", b) }
