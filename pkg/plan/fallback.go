package plan

import (
	"regexp"
	"strconv"
	"strings"
)

// Regex heuristics used when the classification LLM call fails or returns
// garbage. Deliberately conservative: the resulting confidence is low so
// downstream consumers can ask for clarification.
var (
	fromToRe   = regexp.MustCompile(`(?i)\bfrom\s+([A-Za-z][A-Za-z .'-]{1,40}?)\s+to\s+([A-Za-z][A-Za-z .'-]{1,40}?)(?:\s+for\b|\s+with\b|[,.?]|$)`)
	betweenRe  = regexp.MustCompile(`(?i)\bbetween\s+([A-Za-z][A-Za-z .'-]{1,40}?)\s+and\s+([A-Za-z][A-Za-z .'-]{1,40}?)(?:[,.?]|$)`)
	portCodeRe = regexp.MustCompile(`\b[A-Z]{5}\b`)
	imoRe      = regexp.MustCompile(`(?i)\bIMO\s?(\d{7})\b`)
	fuelTypeRe = regexp.MustCompile(`(?i)\b(VLSFO|HSFO|ULSFO|LSMGO|MGO|LNG|MDO)\b`)
	quantityRe = regexp.MustCompile(`(?i)\b(\d+(?:\.\d+)?)\s*(?:MT|mt|tonnes?|tons?)\b`)
)

// fallbackClassify derives a low-confidence classification from keyword and
// pattern matches on the raw query.
func fallbackClassify(query string, knownTypes []string) Classification {
	lower := strings.ToLower(query)

	queryType := pickQueryType(lower, knownTypes)
	c := Classification{
		QueryType:  queryType,
		Confidence: 0.3,
		Reasoning:  "regex fallback classification (LLM unavailable or unparsable)",
	}

	if m := fromToRe.FindStringSubmatch(query); m != nil {
		c.ExtractedEntities.Origin = strings.TrimSpace(m[1])
		c.ExtractedEntities.Destination = strings.TrimSpace(m[2])
	} else if m := betweenRe.FindStringSubmatch(query); m != nil {
		c.ExtractedEntities.Origin = strings.TrimSpace(m[1])
		c.ExtractedEntities.Destination = strings.TrimSpace(m[2])
	} else if codes := portCodeRe.FindAllString(query, 2); len(codes) == 2 {
		c.ExtractedEntities.Origin = codes[0]
		c.ExtractedEntities.Destination = codes[1]
	}

	if m := imoRe.FindStringSubmatch(query); m != nil {
		c.ExtractedEntities.VesselName = "IMO" + m[1]
	}
	for _, m := range fuelTypeRe.FindAllString(query, -1) {
		c.ExtractedEntities.FuelTypes = appendUnique(c.ExtractedEntities.FuelTypes, strings.ToUpper(m))
	}
	if m := quantityRe.FindStringSubmatch(query); m != nil {
		if qty, err := strconv.ParseFloat(m[1], 64); err == nil {
			c.ExtractedEntities.FuelQuantityMT = qty
		}
	}

	return c
}

// pickQueryType scores keyword families and returns the best known type.
func pickQueryType(lower string, knownTypes []string) string {
	scores := map[string]int{}
	bump := func(queryType string, keywords ...string) {
		for _, kw := range keywords {
			if strings.Contains(lower, kw) {
				scores[queryType]++
			}
		}
	}

	bump("bunker_planning", "bunker", "fuel", "refuel", "cheapest", "vlsfo", "hsfo", "mgo", "price")
	bump("route_only", "distance", "route", "waypoint", "how far", "calculate distance")
	bump("weather_check", "weather", "storm", "swell", "wind", "typhoon")
	bump("vessel_info", "vessel", "fleet", "imo", "noon report", "consumption")
	bump("price_check", "price", "cost of fuel", "quote")

	best, bestScore := "", 0
	for _, qt := range knownTypes {
		if scores[qt] > bestScore {
			best, bestScore = qt, scores[qt]
		}
	}
	if best == "" {
		// A route phrase without domain keywords still implies routing.
		if fromToRe.MatchString(lower) || betweenRe.MatchString(lower) {
			for _, qt := range knownTypes {
				if qt == "route_only" {
					return qt
				}
			}
		}
		if len(knownTypes) > 0 {
			return knownTypes[0]
		}
		return "general"
	}
	return best
}

func appendUnique(list []string, s string) []string {
	for _, v := range list {
		if v == s {
			return list
		}
	}
	return append(list, s)
}
