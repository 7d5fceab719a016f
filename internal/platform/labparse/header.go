package labparse

import (
	"regexp"
	"strings"
)

// Header is the report metadata printed around the result table. Every field
// is best effort and may be empty.
type Header struct {
	ReportNumber       string
	CollectionDate     string
	ReportDate         string
	PatientName        string
	PatientID          string
	PatientSex         string
	ReferringPhysician string
	CollectionSite     string
}

const dateExpr = `(\d{2}[./-]\d{2}[./-]\d{4})`

var (
	reportNumberPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)buletin(?:ul)?(?:\s+de\s+analize)?\s*(?:nr\.?|num[aă]r)\s*[:.]?\s*([A-Z0-9][A-Z0-9/\-]{2,})`),
		regexp.MustCompile(`(?i)nr\.?\s*(?:buletin|cerere|prob[aă])\s*[:.]?\s*([A-Z0-9][A-Z0-9/\-]{2,})`),
		regexp.MustCompile(`(?i)\bnr[.\s:]+(\d{4,12})\b`),
	}
	collectionDatePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)recolt[aă](?:re|rii|t)?[^\n\d]{0,30}?` + dateExpr),
	}
	reportDatePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)data\s+raportului[^\n\d]{0,20}?` + dateExpr),
		regexp.MustCompile(`(?i)eliber[a-zăâ]*[^\n\d]{0,30}?` + dateExpr),
		regexp.MustCompile(`(?i)valid[a-zăâ]*[^\n\d]{0,30}?` + dateExpr),
	}
	cnpPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)CNP\s*[:.]?\s*(\d{13})\b`),
		regexp.MustCompile(`\b(\d{13})\b`),
	}
	patientNamePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)(?:^|[^\pL])(?:nume\s*(?:și|si|/)?\s*prenume|nume\s+pacient|pacient|nume)\s*:\s*(\pL[\pL \t.\-']*)`),
	}
	physicianPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)medic\s+trimi[tț][aă]tor\s*[:.]?\s*(\pL[\pL \t.\-']*)`),
	}
	sitePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)recoltat\s+la\s*[:.]?\s*(\pL[\pL0-9 \t.,\-']*)`),
	}
	sexLabel = regexp.MustCompile(`(?i)(?:^|[^\pL])sex\s*[:.]\s*(\pL+)`)
	// nextLabel cuts a same-line capture where the following field begins.
	nextLabel = regexp.MustCompile(`(?i)(?:^|\s)(?:CNP|V[aâ]rst[aă]|Sex|Data|Tel(?:efon)?|Adresa)(?:\s|:|\.|$)`)
)

// ExtractHeader pulls report and patient metadata from the lines. Labels are
// tried in priority order and the first match wins.
func ExtractHeader(lines []string) Header {
	text := strings.Join(lines, "\n")
	h := Header{
		ReportNumber:       firstMatch(text, reportNumberPatterns),
		CollectionDate:     firstMatch(text, collectionDatePatterns),
		ReportDate:         firstMatch(text, reportDatePatterns),
		PatientID:          firstMatch(text, cnpPatterns),
		PatientName:        labelValue(text, patientNamePatterns),
		ReferringPhysician: labelValue(text, physicianPatterns),
		CollectionSite:     labelValue(text, sitePatterns),
	}
	if m := sexLabel.FindStringSubmatch(text); m != nil {
		h.PatientSex = sexFromLabel(m[1])
	}
	if h.PatientSex == "" {
		h.PatientSex = SexFromCNP(h.PatientID)
	}
	return h
}

func firstMatch(text string, patterns []*regexp.Regexp) string {
	for _, re := range patterns {
		if m := re.FindStringSubmatch(text); m != nil {
			return strings.TrimSpace(m[1])
		}
	}
	return ""
}

// labelValue is firstMatch for free text values that run until the next
// label on the same line.
func labelValue(text string, patterns []*regexp.Regexp) string {
	v := firstMatch(text, patterns)
	if loc := nextLabel.FindStringIndex(v); loc != nil {
		v = v[:loc[0]]
	}
	return strings.TrimRight(collapseSpace(v), " ,.-")
}

func sexFromLabel(v string) string {
	switch strings.ToLower(v)[:1] {
	case "m", "b":
		return "M"
	case "f":
		return "F"
	}
	return ""
}

// SexFromCNP infers sex from the first digit of a Romanian personal numeric
// code: odd digits are male, even digits female. Other values yield "".
func SexFromCNP(cnp string) string {
	if len(cnp) != 13 {
		return ""
	}
	switch cnp[0] {
	case '1', '3', '5', '7':
		return "M"
	case '2', '4', '6', '8':
		return "F"
	}
	return ""
}
