package extract

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	yearRe    = regexp.MustCompile(`\b(19|20)\d{2}\b`)
	nvRe      = regexp.MustCompile(`(?i)\bN\.?V\.?(\s|$)`)
	priceRe   = regexp.MustCompile(`[ \t]?\$\s?(\d+(?:\.\d{1,2})?)`)
	dashSplit = regexp.MustCompile(`\s+[-–—]\s+`)
	byRe      = regexp.MustCompile(`(?i)^(.+?)\s+by\s+(.+?)\s*\(\s*((?:19|20)\d{2}|NV)\s*\)$`)
	columnRe  = regexp.MustCompile(`^(\S.*?)(?:\s{2,}|\t+)(.+?)\s+((?:19|20)\d{2}|NV)$`)
)

const edgePunct = " \t,;:|-–—/"

// ParseLine applies the pattern heuristics to a line. It reports false when
// no name could be recovered.
func ParseLine(line string) (Candidate, bool) {
	text, price := stripPrice(strings.TrimSpace(line))

	parsers := []func(string) (Candidate, bool){
		delimited(","),
		delimited("|"),
		dashDelimited,
		byProducer,
		columnAligned,
	}
	for _, parse := range parsers {
		if c, ok := parse(text); ok && c.Name != "" {
			c.Price = price
			c.Method = MethodPattern
			return c, true
		}
	}

	c := general(text)
	if c.Name == "" {
		return Candidate{}, false
	}
	c.Price = price
	c.Method = MethodPattern
	return c, true
}

// stripPrice removes dollar prices from s and returns the first one found.
func stripPrice(s string) (string, float64) {
	var price float64
	if m := priceRe.FindStringSubmatch(s); m != nil {
		price, _ = strconv.ParseFloat(m[1], 64)
	}
	// internal spacing is kept for the column-aligned pattern
	return strings.Trim(priceRe.ReplaceAllString(s, ""), edgePunct), price
}

func delimited(sep string) func(string) (Candidate, bool) {
	return func(s string) (Candidate, bool) {
		if !strings.Contains(s, sep) {
			return Candidate{}, false
		}
		return fromParts(strings.Split(s, sep))
	}
}

func dashDelimited(s string) (Candidate, bool) {
	if !dashSplit.MatchString(s) {
		return Candidate{}, false
	}
	return fromParts(dashSplit.Split(s, -1))
}

// fromParts reads delimited fields as producer, name, region, country with
// the vintage taken from wherever it appears.
func fromParts(raw []string) (Candidate, bool) {
	var parts []string
	var vintage string
	for _, p := range raw {
		p = strings.Trim(clean(p), edgePunct)
		if p == "" {
			continue
		}
		if vintage == "" {
			if v := normalizeVintage(p); v != "" && (v == p || strings.EqualFold(p, "N.V.")) {
				vintage = v
				continue
			}
		}
		parts = append(parts, p)
	}
	if vintage == "" {
		for i, p := range parts {
			if y := yearRe.FindString(p); y != "" {
				vintage = y
				parts[i] = strings.Trim(clean(yearRe.ReplaceAllString(p, " ")), edgePunct)
				break
			}
		}
	}

	var kept []string
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}

	var c Candidate
	switch len(kept) {
	case 0:
		return Candidate{}, false
	case 1:
		c.Name = kept[0]
	default:
		c.Producer = kept[0]
		c.Name = kept[1]
		if len(kept) > 2 {
			c.Region = kept[2]
		}
		if len(kept) > 3 {
			c.Country = kept[3]
		}
	}
	c.Vintage = vintage
	return c, true
}

func byProducer(s string) (Candidate, bool) {
	m := byRe.FindStringSubmatch(s)
	if m == nil {
		return Candidate{}, false
	}
	return Candidate{
		Name:     strings.TrimSpace(m[1]),
		Producer: strings.TrimSpace(m[2]),
		Vintage:  strings.ToUpper(m[3]),
	}, true
}

func columnAligned(s string) (Candidate, bool) {
	m := columnRe.FindStringSubmatch(s)
	if m == nil {
		return Candidate{}, false
	}
	return Candidate{
		Producer: strings.TrimSpace(m[1]),
		Name:     clean(m[2]),
		Vintage:  strings.ToUpper(m[3]),
	}, true
}

// general takes the first year as the vintage and the rest of the line as
// the name.
func general(s string) Candidate {
	var c Candidate
	if loc := yearRe.FindStringIndex(s); loc != nil {
		c.Vintage = s[loc[0]:loc[1]]
		s = s[:loc[0]] + " " + s[loc[1]:]
	} else if loc := nvRe.FindStringIndex(s); loc != nil {
		c.Vintage = "NV"
		s = s[:loc[0]] + " " + s[loc[1]:]
	}
	c.Name = strings.Trim(clean(s), edgePunct)
	return c
}
