// Package table maintains the three append-only tab-separated tables: the
// per-object main table, the processed-document ledger, and the derived
// hash-count projection. Each table has its own lock so unrelated writers
// never contend.
package table

import "strings"

// MainHeader is the current 22-column main-table header.
const MainHeader = "Case Number\tFiling Type\tFiling Date\t" +
	"SHA256 Hash Value\tPdf File Name\tPdf Internal Object Path\tObject Type\tFont Name\t" +
	"Sig #1 Common Name\tSig #2 Common Name\tAuthor\tCreator\tSig #3 Common Name\tSig #4 Common Name\t" +
	"Sig #1 Signing Time\tSig #2 Signing Time\tSig #3 Signing Time\tSig #4 Signing Time\t" +
	"Sig #1 Byte Ranges\tSig #2 Byte Ranges\tSig #3 Byte Ranges\tSig #4 Byte Ranges"

// legacyHeader is the retired 5-column schema. Tables still carrying it are
// widened in place by the one supported migration.
const legacyHeader = "SHA256 Hash Value\tPdf File Name\tPdf Internal Object Path\tObject Type\tFont Name"

const (
	// legacy rows gain this many blank fields on each side during migration.
	migrateLeadingBlanks  = 3
	migrateTrailingBlanks = 14

	// hashColumn is the zero-based index of the content-hash column in the
	// current schema; the projection is rebuilt from it.
	hashColumn = 3

	// nameColumn is the zero-based index of the document-name column.
	nameColumn = 4
)

// ObjectRow is one denormalized main-table record: document-level filing
// and signer attributes combined with one extracted object's identity.
type ObjectRow struct {
	CaseNumber string
	FilingType string
	FilingDate string

	SHA256       string
	DocumentName string
	ObjectPath   string
	ObjectType   string
	FontName     string

	Author  string
	Creator string

	SigCommonNames  [4]string
	SigSigningTimes [4]string
	SigByteRanges   [4]string
}

// fields returns the row's values in on-disk column order.
func (r ObjectRow) fields() []string {
	return []string{
		r.CaseNumber, r.FilingType, r.FilingDate,
		r.SHA256, r.DocumentName, r.ObjectPath, r.ObjectType, r.FontName,
		r.SigCommonNames[0], r.SigCommonNames[1], r.Author, r.Creator,
		r.SigCommonNames[2], r.SigCommonNames[3],
		r.SigSigningTimes[0], r.SigSigningTimes[1], r.SigSigningTimes[2], r.SigSigningTimes[3],
		r.SigByteRanges[0], r.SigByteRanges[1], r.SigByteRanges[2], r.SigByteRanges[3],
	}
}

var fieldSanitizer = strings.NewReplacer("\t", " ", "\n", " ", "\r", " ")

// sanitizeField keeps stray tabs and newlines in tool output from
// corrupting the row structure.
func sanitizeField(s string) string {
	return fieldSanitizer.Replace(s)
}
