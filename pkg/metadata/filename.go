// Package metadata extracts per-document descriptive attributes: filing
// fields encoded in the document file name and signature blocks reported
// by an external verifier.
package metadata

import (
	"regexp"
	"strings"
)

// filenamePrefix marks court-record downloads whose names carry filing
// metadata as underscore-separated tokens.
const filenamePrefix = "MCRO_"

var pdfExtRe = regexp.MustCompile(`(?i)\.pdf$`)

// FilingAttributes are the descriptive fields parsed from a document name.
// All fields are blank when the name does not follow the MCRO_ convention.
type FilingAttributes struct {
	CaseNumber string
	FilingType string
	FilingDate string
}

// ParseFilename parses a document base name of the form
// MCRO_<case>_<type>_<date>_... into its first three tokens. The .pdf
// suffix is stripped before splitting so the final token never absorbs
// the extension. Names without the prefix, or with fewer than three
// tokens after it, yield all-blank attributes.
func ParseFilename(name string) FilingAttributes {
	if !strings.HasPrefix(name, filenamePrefix) {
		return FilingAttributes{}
	}
	noExt := pdfExtRe.ReplaceAllString(name, "")
	parts := strings.Split(noExt, "_")
	if len(parts) < 4 {
		return FilingAttributes{}
	}
	return FilingAttributes{
		CaseNumber: parts[1],
		FilingType: parts[2],
		FilingDate: parts[3],
	}
}
