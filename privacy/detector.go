// Copyright 2025 Symbiont
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package privacy

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"
)

// piiPattern is a compiled detection rule. The validator examines the match
// plus surrounding context and returns (isValid, confidence); a nil
// validator accepts at confidence 1.0.
type piiPattern struct {
	Type        PIIType
	Pattern     *regexp.Regexp
	Sensitivity Sensitivity
	Validator   func(match string, context string) (bool, float64)
	MinLength   int
	MaxLength   int
}

// Detector scans text for the twelve PII categories with checksum and
// context validation to keep false positives down.
type Detector struct {
	patterns         []*piiPattern
	contextWindow    int // characters around a match used for validation
	minConfidence    float64
	enableValidation bool
}

// DetectorConfig configures the detector behavior.
type DetectorConfig struct {
	ContextWindow    int
	MinConfidence    float64
	EnableValidation bool
	EnabledTypes     []PIIType // empty means all types enabled
}

// DefaultDetectorConfig returns sensible defaults
func DefaultDetectorConfig() DetectorConfig {
	return DetectorConfig{
		ContextWindow:    50,
		MinConfidence:    0.5,
		EnableValidation: true,
		EnabledTypes:     nil,
	}
}

// NewDetector creates a detector with the given configuration.
func NewDetector(config DetectorConfig) *Detector {
	d := &Detector{
		contextWindow:    config.ContextWindow,
		minConfidence:    config.MinConfidence,
		enableValidation: config.EnableValidation,
	}
	d.loadPatterns(config.EnabledTypes)
	return d
}

// loadPatterns initializes all PII detection patterns
func (d *Detector) loadPatterns(enabledTypes []PIIType) {
	allPatterns := []*piiPattern{
		// SSN - US Social Security Number
		{
			Type:        PIITypeSSN,
			Pattern:     regexp.MustCompile(`\b(\d{3})[- ]?(\d{2})[- ]?(\d{4})\b`),
			Sensitivity: SensitivityHigh,
			Validator:   validateSSN,
			MinLength:   9,
			MaxLength:   11,
		},
		// Credit Card - Major card networks with Luhn validation
		{
			Type: PIITypeCreditCard,
			// Visa, MasterCard, Amex, Discover, Diners, JCB
			Pattern:     regexp.MustCompile(`\b(?:4[0-9]{12}(?:[0-9]{3})?|5[1-5][0-9]{14}|3[47][0-9]{13}|6(?:011|5[0-9]{2})[0-9]{12}|3(?:0[0-5]|[68][0-9])[0-9]{11}|(?:2131|1800|35\d{3})\d{11})\b|\b(\d{4})[- ]?(\d{4})[- ]?(\d{4})[- ]?(\d{4})\b`),
			Sensitivity: SensitivityHigh,
			Validator:   validateCreditCard,
			MinLength:   13,
			MaxLength:   19,
		},
		// Email - RFC 5322 compliant
		{
			Type:        PIITypeEmail,
			Pattern:     regexp.MustCompile(`\b[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}\b`),
			Sensitivity: SensitivityMedium,
			Validator:   validateEmail,
			MinLength:   5,
			MaxLength:   254,
		},
		// Phone - US and international formats
		{
			Type:        PIITypePhone,
			Pattern:     regexp.MustCompile(`(?:\+?1[-.\s]?)?\(?[0-9]{3}\)?[-.\s]?[0-9]{3}[-.\s]?[0-9]{4}\b|\+[0-9]{1,3}[-.\s]?[0-9]{6,14}\b`),
			Sensitivity: SensitivityMedium,
			Validator:   validatePhone,
			MinLength:   7,
			MaxLength:   20,
		},
		// IP Address - IPv4 with validation
		{
			Type:        PIITypeIP,
			Pattern:     regexp.MustCompile(`\b(?:(?:25[0-5]|2[0-4][0-9]|[01]?[0-9][0-9]?)\.){3}(?:25[0-5]|2[0-4][0-9]|[01]?[0-9][0-9]?)\b`),
			Sensitivity: SensitivityMedium,
			Validator:   validateIPAddress,
			MinLength:   7,
			MaxLength:   15,
		},
		// Date of Birth - Multiple formats
		{
			Type:        PIITypeDOB,
			Pattern:     regexp.MustCompile(`\b(?:(?:0?[1-9]|1[0-2])[/\-](?:0?[1-9]|[12][0-9]|3[01])[/\-](?:19|20)\d{2}|(?:19|20)\d{2}[/\-](?:0?[1-9]|1[0-2])[/\-](?:0?[1-9]|[12][0-9]|3[01]))\b`),
			Sensitivity: SensitivityHigh,
			Validator:   validateDateOfBirth,
			MinLength:   8,
			MaxLength:   10,
		},
		// Financial - US routing + account numbers
		{
			Type:        PIITypeFinancial,
			Pattern:     regexp.MustCompile(`\b[0-9]{9}[- ]?[0-9]{8,17}\b`),
			Sensitivity: SensitivityHigh,
			Validator:   validateBankAccount,
			MinLength:   17,
			MaxLength:   27,
		},
		// Financial - IBAN
		{
			Type:        PIITypeFinancial,
			Pattern:     regexp.MustCompile(`\b[A-Z]{2}[0-9]{2}[A-Z0-9]{4}[0-9]{7}(?:[A-Z0-9]?){0,16}\b`),
			Sensitivity: SensitivityHigh,
			Validator:   validateIBAN,
			MinLength:   15,
			MaxLength:   34,
		},
		// Name - introduced names ("my name is ...", honorifics)
		{
			Type:        PIITypeName,
			Pattern:     regexp.MustCompile(`\b(?:Mr\.|Mrs\.|Ms\.|Dr\.|Prof\.)\s+[A-Z][a-z]+(?:\s+[A-Z][a-z]+)?\b|\b[A-Z][a-z]+\s+[A-Z][a-z]+\b`),
			Sensitivity: SensitivityMedium,
			Validator:   validateName,
			MinLength:   4,
			MaxLength:   60,
		},
		// Address - street number + name + suffix
		{
			Type:        PIITypeAddress,
			Pattern:     regexp.MustCompile(`\b\d{1,5}\s+[A-Za-z][A-Za-z0-9\s]{2,30}\s+(?:Street|St\.?|Avenue|Ave\.?|Boulevard|Blvd\.?|Drive|Dr\.?|Lane|Ln\.?|Road|Rd\.?|Court|Ct\.?|Place|Pl\.?|Way)\b`),
			Sensitivity: SensitivityMedium,
			Validator:   validateAddress,
			MinLength:   8,
			MaxLength:   80,
		},
		// Location - GPS coordinate pairs
		{
			Type:        PIITypeLocation,
			Pattern:     regexp.MustCompile(`[-+]?\d{1,3}\.\d{3,8}\s*,\s*[-+]?\d{1,3}\.\d{3,8}`),
			Sensitivity: SensitivityMedium,
			Validator:   validateLocation,
			MinLength:   9,
			MaxLength:   40,
		},
		// Medical - condition/medication statements about the user
		{
			Type:        PIITypeMedical,
			Pattern:     regexp.MustCompile(`(?i)\b(?:diagnosed with|prescribed|prescription for|suffering from|treated for|my (?:diagnosis|condition|medication))\s+[A-Za-z][A-Za-z0-9\- ]{2,40}`),
			Sensitivity: SensitivityHigh,
			Validator:   validateMedical,
			MinLength:   10,
			MaxLength:   80,
		},
		// Biometric - references to stored biometric identifiers
		{
			Type:        PIITypeBiometric,
			Pattern:     regexp.MustCompile(`(?i)\b(?:fingerprint|face(?:print| scan)|retina(?:l)? scan|iris scan|voice ?print|dna (?:profile|sample))\b[^.\n]{0,40}`),
			Sensitivity: SensitivityHigh,
			Validator:   validateBiometric,
			MinLength:   6,
			MaxLength:   80,
		},
	}

	// Filter by enabled types if specified
	if len(enabledTypes) > 0 {
		enabledMap := make(map[PIIType]bool)
		for _, t := range enabledTypes {
			enabledMap[t] = true
		}
		for _, p := range allPatterns {
			if enabledMap[p.Type] {
				d.patterns = append(d.patterns, p)
			}
		}
	} else {
		d.patterns = allPatterns
	}
}

// Detect scans text for all enabled PII types.
func (d *Detector) Detect(text string) []Detection {
	var results []Detection

	for _, pattern := range d.patterns {
		results = append(results, d.scan(text, pattern)...)
	}

	return dedupeOverlaps(results)
}

// DetectType scans text for a specific type of PII.
func (d *Detector) DetectType(text string, piiType PIIType) []Detection {
	var results []Detection

	for _, pattern := range d.patterns {
		if pattern.Type != piiType {
			continue
		}
		results = append(results, d.scan(text, pattern)...)
	}

	return dedupeOverlaps(results)
}

func (d *Detector) scan(text string, pattern *piiPattern) []Detection {
	var results []Detection

	matches := pattern.Pattern.FindAllStringSubmatchIndex(text, -1)
	for _, match := range matches {
		if len(match) < 2 {
			continue
		}

		startIdx := match[0]
		endIdx := match[1]
		matchedText := text[startIdx:endIdx]

		if len(matchedText) < pattern.MinLength || len(matchedText) > pattern.MaxLength {
			continue
		}

		context := d.extractContext(text, startIdx, endIdx)

		confidence := 1.0
		if d.enableValidation && pattern.Validator != nil {
			isValid, validatorConfidence := pattern.Validator(matchedText, context)
			if !isValid {
				continue
			}
			confidence = validatorConfidence
		}

		if confidence < d.minConfidence {
			continue
		}

		results = append(results, Detection{
			Type:        pattern.Type,
			Value:       matchedText,
			Sensitivity: pattern.Sensitivity,
			Confidence:  confidence,
			StartIndex:  startIdx,
			EndIndex:    endIdx,
			Context:     context,
		})
	}

	return results
}

// HasPII quickly checks if text contains any PII.
func (d *Detector) HasPII(text string) bool {
	for _, pattern := range d.patterns {
		matches := pattern.Pattern.FindAllStringIndex(text, 1)
		for _, m := range matches {
			matched := text[m[0]:m[1]]
			if pattern.Validator != nil {
				context := d.extractContext(text, m[0], m[1])
				if isValid, conf := pattern.Validator(matched, context); isValid && conf >= d.minConfidence {
					return true
				}
			} else {
				return true
			}
		}
	}
	return false
}

// extractContext extracts surrounding text for context analysis
func (d *Detector) extractContext(text string, start, end int) string {
	contextStart := start - d.contextWindow
	if contextStart < 0 {
		contextStart = 0
	}

	contextEnd := end + d.contextWindow
	if contextEnd > len(text) {
		contextEnd = len(text)
	}

	return text[contextStart:contextEnd]
}

// dedupeOverlaps drops detections fully contained in a higher-confidence
// detection of another type (an SSN inside a bank-account match, a name
// inside an address).
func dedupeOverlaps(results []Detection) []Detection {
	if len(results) < 2 {
		return results
	}
	keep := make([]Detection, 0, len(results))
	for i, r := range results {
		contained := false
		for j, other := range results {
			if i == j {
				continue
			}
			if r.StartIndex >= other.StartIndex && r.EndIndex <= other.EndIndex &&
				(other.EndIndex-other.StartIndex) > (r.EndIndex-r.StartIndex) &&
				other.Confidence >= r.Confidence {
				contained = true
				break
			}
		}
		if !contained {
			keep = append(keep, r)
		}
	}
	return keep
}

// FilterBySensitivity filters results by minimum sensitivity.
func FilterBySensitivity(results []Detection, min Sensitivity) []Detection {
	order := map[Sensitivity]int{
		SensitivityLow:    1,
		SensitivityMedium: 2,
		SensitivityHigh:   3,
	}

	minLevel := order[min]
	var filtered []Detection

	for _, r := range results {
		if order[r.Sensitivity] >= minLevel {
			filtered = append(filtered, r)
		}
	}

	return filtered
}

// FilterByConfidence filters results by minimum confidence.
func FilterByConfidence(results []Detection, minConfidence float64) []Detection {
	var filtered []Detection
	for _, r := range results {
		if r.Confidence >= minConfidence {
			filtered = append(filtered, r)
		}
	}
	return filtered
}

// =============================================================================
// Validators - Each returns (isValid, confidence)
// =============================================================================

// validateSSN validates US Social Security Numbers
// SSN cannot start with 000, 666, or 900-999
// Cannot have 00 in middle group or 0000 in last group
func validateSSN(match string, context string) (bool, float64) {
	clean := digitsOnly(match)
	if len(clean) != 9 {
		return false, 0
	}

	area, _ := strconv.Atoi(clean[0:3])
	group, _ := strconv.Atoi(clean[3:5])
	serial, _ := strconv.Atoi(clean[5:9])

	if area == 0 || area == 666 || area >= 900 {
		return false, 0
	}
	if group == 0 || serial == 0 {
		return false, 0
	}

	contextLower := strings.ToLower(context)

	negativeIndicators := []string{
		"order", "invoice", "ref", "reference", "tracking",
		"confirmation", "booking", "receipt", "po ", "purchase",
		"item", "product", "sku", "model", "serial number",
		"case ", "ticket", "id:", "account #",
	}
	for _, indicator := range negativeIndicators {
		if strings.Contains(contextLower, indicator) {
			return false, 0.3
		}
	}

	positiveIndicators := []string{
		"ssn", "social security", "social sec", "ss#", "ss #",
		"taxpayer", "tin", "tax id",
	}
	for _, indicator := range positiveIndicators {
		if strings.Contains(contextLower, indicator) {
			return true, 0.95
		}
	}

	return true, 0.7
}

// validateCreditCard validates credit card numbers using the Luhn algorithm
func validateCreditCard(match string, context string) (bool, float64) {
	clean := digitsOnly(match)
	if len(clean) < 13 || len(clean) > 19 {
		return false, 0
	}

	if !luhnCheck(clean) {
		return false, 0
	}

	cardType := identifyCardType(clean)
	if cardType == "" {
		return false, 0.5
	}

	contextLower := strings.ToLower(context)

	negativeIndicators := []string{
		"phone", "fax", "tel:", "call", "mobile",
	}
	for _, indicator := range negativeIndicators {
		if strings.Contains(contextLower, indicator) {
			return false, 0.2
		}
	}

	positiveIndicators := []string{
		"card", "credit", "debit", "visa", "mastercard", "amex",
		"american express", "discover", "payment", "cc#", "cc #",
	}
	for _, indicator := range positiveIndicators {
		if strings.Contains(contextLower, indicator) {
			return true, 0.95
		}
	}

	return true, 0.85
}

// luhnCheck performs the Luhn algorithm check
func luhnCheck(number string) bool {
	sum := 0
	alternate := false

	for i := len(number) - 1; i >= 0; i-- {
		digit, _ := strconv.Atoi(string(number[i]))

		if alternate {
			digit *= 2
			if digit > 9 {
				digit -= 9
			}
		}

		sum += digit
		alternate = !alternate
	}

	return sum%10 == 0
}

// identifyCardType identifies the card network from the number prefix
func identifyCardType(number string) string {
	if len(number) < 2 {
		return ""
	}

	prefix1, _ := strconv.Atoi(string(number[0]))
	prefix2, _ := strconv.Atoi(number[0:2])

	// Check JCB first (3528-3589) before Diners (30-35) to avoid overlap
	if len(number) >= 4 {
		prefix4, _ := strconv.Atoi(number[0:4])
		if prefix4 >= 3528 && prefix4 <= 3589 {
			return "jcb"
		}
		if prefix4 == 6011 || (prefix2 >= 64 && prefix2 <= 65) {
			return "discover"
		}
	}

	switch {
	case prefix1 == 4:
		return "visa"
	case prefix2 >= 51 && prefix2 <= 55:
		return "mastercard"
	case prefix2 >= 22 && prefix2 <= 27: // Mastercard 2-series
		return "mastercard"
	case prefix2 == 34 || prefix2 == 37:
		return "amex"
	case prefix2 == 36 || prefix2 == 38 || (prefix2 >= 30 && prefix2 <= 35):
		return "diners"
	}

	return ""
}

// validateEmail validates email format
func validateEmail(match string, context string) (bool, float64) {
	atIndex := strings.LastIndex(match, "@")
	if atIndex < 1 || atIndex >= len(match)-4 {
		return false, 0
	}

	domain := match[atIndex+1:]

	if !strings.Contains(domain, ".") {
		return false, 0
	}

	lastDot := strings.LastIndex(domain, ".")
	if len(domain)-lastDot-1 < 2 {
		return false, 0
	}

	if strings.Contains(match, "..") || strings.HasPrefix(match, ".") {
		return false, 0
	}

	disposablePatterns := []string{
		"example.com", "test.com", "localhost", "mailinator",
		"guerrillamail", "tempmail", "throwaway",
	}
	for _, pattern := range disposablePatterns {
		if strings.Contains(strings.ToLower(domain), pattern) {
			return true, 0.5
		}
	}

	return true, 0.9
}

// validatePhone validates phone number formats
func validatePhone(match string, context string) (bool, float64) {
	digits := digitsOnly(match)

	// US phones have 10-11 digits; international 7-15
	if len(digits) < 7 || len(digits) > 15 {
		return false, 0
	}

	if isRepeatedDigits(digits) {
		return false, 0.1
	}

	contextLower := strings.ToLower(context)

	negativeIndicators := []string{
		"zip", "postal", "code", "year", "date", "amount",
		"price", "total", "quantity", "qty",
	}
	for _, indicator := range negativeIndicators {
		if strings.Contains(contextLower, indicator) {
			return false, 0.2
		}
	}

	positiveIndicators := []string{
		"phone", "tel", "call", "mobile", "cell", "fax",
		"contact", "reach", "dial",
	}
	for _, indicator := range positiveIndicators {
		if strings.Contains(contextLower, indicator) {
			return true, 0.95
		}
	}

	return true, 0.7
}

// validateIPAddress validates IPv4 addresses
func validateIPAddress(match string, context string) (bool, float64) {
	parts := strings.Split(match, ".")
	if len(parts) != 4 {
		return false, 0
	}

	for _, part := range parts {
		num, err := strconv.Atoi(part)
		if err != nil || num < 0 || num > 255 {
			return false, 0
		}
	}

	// Special and private ranges are valid but rarely personal
	if match == "0.0.0.0" || match == "255.255.255.255" ||
		strings.HasPrefix(match, "127.") || strings.HasPrefix(match, "192.168.") ||
		strings.HasPrefix(match, "10.") || strings.HasPrefix(match, "172.") {
		return true, 0.5
	}

	contextLower := strings.ToLower(context)
	if strings.Contains(contextLower, "version") || strings.Contains(contextLower, "v.") {
		return false, 0.1
	}

	return true, 0.8
}

// validateIBAN validates International Bank Account Numbers
func validateIBAN(match string, context string) (bool, float64) {
	clean := strings.ReplaceAll(strings.ToUpper(match), " ", "")

	if len(clean) < 15 || len(clean) > 34 {
		return false, 0
	}

	if !unicode.IsLetter(rune(clean[0])) || !unicode.IsLetter(rune(clean[1])) {
		return false, 0
	}

	if !validateIBANChecksum(clean) {
		return false, 0
	}

	return true, 0.9
}

// validateIBANChecksum validates IBAN using the MOD 97 algorithm
func validateIBANChecksum(iban string) bool {
	rearranged := iban[4:] + iban[0:4]

	// Convert letters to numbers (A=10, B=11, ..., Z=35)
	var numericStr strings.Builder
	for _, ch := range rearranged {
		if unicode.IsLetter(ch) {
			numericStr.WriteString(strconv.Itoa(int(unicode.ToUpper(ch) - 'A' + 10)))
		} else {
			numericStr.WriteRune(ch)
		}
	}

	numeric := numericStr.String()
	var remainder int
	for _, digit := range numeric {
		remainder = (remainder*10 + int(digit-'0')) % 97
	}

	return remainder == 1
}

// validateDateOfBirth validates date formats that could be a DOB
func validateDateOfBirth(match string, context string) (bool, float64) {
	// Context is crucial for DOB
	contextLower := strings.ToLower(context)

	positiveIndicators := []string{
		"dob", "date of birth", "birth date", "birthday", "born",
		"birthdate", "d.o.b",
	}
	for _, indicator := range positiveIndicators {
		if strings.Contains(contextLower, indicator) {
			return true, 0.95
		}
	}

	// Without DOB context, treat as a regular date
	return true, 0.4
}

// validateBankAccount validates US bank routing + account format
func validateBankAccount(match string, context string) (bool, float64) {
	clean := digitsOnly(match)
	if len(clean) < 17 || len(clean) > 26 {
		return false, 0
	}

	routing := clean[0:9]
	if !validateABARoutingNumber(routing) {
		return false, 0.3
	}

	contextLower := strings.ToLower(context)

	positiveIndicators := []string{
		"routing", "account", "bank", "aba", "ach", "wire",
	}
	for _, indicator := range positiveIndicators {
		if strings.Contains(contextLower, indicator) {
			return true, 0.95
		}
	}

	return true, 0.7
}

// validateABARoutingNumber validates US ABA routing number checksum
func validateABARoutingNumber(routing string) bool {
	if len(routing) != 9 {
		return false
	}

	if routing == "000000000" {
		return false
	}

	// Checksum: 3*(d1+d4+d7) + 7*(d2+d5+d8) + 1*(d3+d6+d9) mod 10 = 0
	weights := []int{3, 7, 1, 3, 7, 1, 3, 7, 1}
	sum := 0

	for i, ch := range routing {
		digit := int(ch - '0')
		sum += digit * weights[i]
	}

	return sum%10 == 0
}

// validateName accepts capitalized word pairs only when the context makes a
// personal name plausible. Bare "New York" style pairs stay out.
func validateName(match string, context string) (bool, float64) {
	contextLower := strings.ToLower(context)

	// Honorific prefix inside the match itself is a strong signal.
	honorifics := []string{"mr.", "mrs.", "ms.", "dr.", "prof."}
	matchLower := strings.ToLower(match)
	for _, h := range honorifics {
		if strings.HasPrefix(matchLower, h) {
			return true, 0.9
		}
	}

	positiveIndicators := []string{
		"my name is", "name is", "i am", "i'm", "this is",
		"contact", "regards", "sincerely", "signed", "attn",
		"patient", "client", "customer name",
	}
	for _, indicator := range positiveIndicators {
		if strings.Contains(contextLower, indicator) {
			return true, 0.75
		}
	}

	// Common non-name capitalized pairs
	negativeIndicators := []string{
		"new york", "los angeles", "san francisco", "united states",
		"machine learning", "artificial intelligence",
	}
	for _, indicator := range negativeIndicators {
		if strings.Contains(matchLower, indicator) {
			return false, 0
		}
	}

	return false, 0.3
}

// validateAddress checks that the numbered-street match reads like a postal
// address.
func validateAddress(match string, context string) (bool, float64) {
	contextLower := strings.ToLower(context)

	positiveIndicators := []string{
		"live", "lives", "address", "ship", "deliver", "mail",
		"located", "residence", "home", "apt", "suite", "unit",
	}
	for _, indicator := range positiveIndicators {
		if strings.Contains(contextLower, indicator) {
			return true, 0.9
		}
	}

	return true, 0.6
}

// validateLocation validates coordinate pairs fall within lat/long range.
func validateLocation(match string, context string) (bool, float64) {
	parts := strings.SplitN(match, ",", 2)
	if len(parts) != 2 {
		return false, 0
	}
	lat, err1 := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	lon, err2 := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err1 != nil || err2 != nil {
		return false, 0
	}
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return false, 0
	}

	contextLower := strings.ToLower(context)
	positiveIndicators := []string{
		"location", "coordinates", "gps", "lat", "lng", "long",
		"position", "where i", "my place",
	}
	for _, indicator := range positiveIndicators {
		if strings.Contains(contextLower, indicator) {
			return true, 0.9
		}
	}

	return true, 0.6
}

// validateMedical requires the statement to be about a person rather than a
// general topic.
func validateMedical(match string, context string) (bool, float64) {
	contextLower := strings.ToLower(context)

	negativeIndicators := []string{
		"in general", "statistics", "study found", "research",
		"article", "wikipedia",
	}
	for _, indicator := range negativeIndicators {
		if strings.Contains(contextLower, indicator) {
			return false, 0.3
		}
	}

	personalIndicators := []string{
		"my", "i was", "i am", "i've", "i have", "patient",
	}
	for _, indicator := range personalIndicators {
		if strings.Contains(contextLower, indicator) {
			return true, 0.85
		}
	}

	return true, 0.55
}

// validateBiometric requires the biometric term to refer to stored or
// captured data.
func validateBiometric(match string, context string) (bool, float64) {
	contextLower := strings.ToLower(context)

	dataIndicators := []string{
		"my", "stored", "scan", "data", "enroll", "captured",
		"registered", "record", "sample", "unlock",
	}
	for _, indicator := range dataIndicators {
		if strings.Contains(contextLower, indicator) {
			return true, 0.8
		}
	}

	return true, 0.5
}

// isRepeatedDigits checks if a string is all the same digit
func isRepeatedDigits(s string) bool {
	if len(s) == 0 {
		return false
	}
	first := rune(s[0])
	for _, ch := range s {
		if ch != first {
			return false
		}
	}
	return true
}

func digitsOnly(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) {
			return r
		}
		return -1
	}, s)
}
