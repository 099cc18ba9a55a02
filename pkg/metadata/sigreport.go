package metadata

import (
	"bufio"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"
)

// MaxSignatureBlocks is the number of signature blocks the table schema
// has columns for. Reports may describe more; extras are not retained.
const MaxSignatureBlocks = 4

var (
	sigBlockRe = regexp.MustCompile(`^Signature\s#(\d+):`)
	sigCNRe    = regexp.MustCompile(`Signer\sCertificate\sCommon\sName:\s(.*)$`)
	sigTimeRe  = regexp.MustCompile(`Signing\sTime:\s(.*)$`)
	sigRangeRe = regexp.MustCompile(`Signed\sRanges:\s(.*)$`)
)

// SignatureBlock is one parsed signature entry. Fields the report did not
// provide, or provided malformed, stay blank.
type SignatureBlock struct {
	CommonName  string
	SigningTime string
	ByteRanges  string
}

// SignatureReport holds up to MaxSignatureBlocks parsed blocks, indexed by
// block number minus one.
type SignatureReport struct {
	Blocks [MaxSignatureBlocks]SignatureBlock
}

// ParseSignatureReport scans line-oriented verifier output for signature
// blocks. The scanner is either outside any block or inside block N; a
// "Signature #N:" line with N in 1..4 enters that block, an index outside
// the range leaves the scanner outside so a fifth block cannot bleed into
// the fourth. Unrecognized lines are skipped. An empty report yields an
// empty result, never an error.
func ParseSignatureReport(text string) SignatureReport {
	var rep SignatureReport
	cur := 0 // 0 = outside any block

	sc := bufio.NewScanner(strings.NewReader(text))
	for sc.Scan() {
		line := sc.Text()

		if m := sigBlockRe.FindStringSubmatch(strings.TrimSpace(line)); m != nil {
			cur = 0
			if n, err := strconv.Atoi(m[1]); err == nil && n >= 1 && n <= MaxSignatureBlocks {
				cur = n
			}
			continue
		}
		if cur == 0 {
			continue
		}
		blk := &rep.Blocks[cur-1]

		if m := sigCNRe.FindStringSubmatch(line); m != nil {
			blk.CommonName = strings.TrimSpace(m[1])
			continue
		}
		if m := sigTimeRe.FindStringSubmatch(line); m != nil {
			blk.SigningTime = NormalizeSigningTime(m[1])
			continue
		}
		if m := sigRangeRe.FindStringSubmatch(line); m != nil {
			blk.ByteRanges = strings.TrimSpace(m[1])
			continue
		}
	}
	return rep
}

// signingTimeLayouts are the formats pdfsig is known to emit.
var signingTimeLayouts = []string{
	"Jan 2 2006 15:04:05",
	"Jan 2 2006 15:04",
}

// NormalizeSigningTime converts a verifier timestamp such as
// "Apr 11 2024 08:35:56" to "2024-04-11 08:35:56". Strings no layout or
// dateparse can make sense of are returned trimmed but otherwise verbatim,
// so odd locales are retained rather than dropped.
func NormalizeSigningTime(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ""
	}
	for _, layout := range signingTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format("2006-01-02 15:04:05")
		}
	}
	if t, err := dateparse.ParseAny(s); err == nil {
		return t.Format("2006-01-02 15:04:05")
	}
	// Some locales append a timezone name or other trailing text; retry
	// with just the leading "Mon DD YYYY HH:MM:SS" tokens.
	tokens := strings.Fields(s)
	if len(tokens) >= 5 {
		if t, err := time.Parse("Jan 2 2006 15:04:05", strings.Join(tokens[:5], " ")); err == nil {
			return t.Format("2006-01-02 15:04:05")
		}
	}
	return s
}
