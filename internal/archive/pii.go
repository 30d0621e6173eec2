package archive

// #region imports
import "regexp"

// #endregion

// #region pii-patterns

var (
	emailRE = regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`)
	phoneRE = regexp.MustCompile(`(\+?\d{1,3}[-.\s])?(\(?\d{2,4}\)?[-.\s])?\d{3,4}[-.\s]\d{4}\b`)
	longRE  = regexp.MustCompile(`\b\d{9,11}\b`)
)

// maskPII replaces email addresses and phone numbers with "***". Applied to
// stored values only; values already returned to callers are untouched.
func maskPII(text string) string {
	if text == "" {
		return text
	}
	masked := emailRE.ReplaceAllString(text, "***")
	masked = phoneRE.ReplaceAllString(masked, "***")
	return longRE.ReplaceAllString(masked, "***")
}

// #endregion
