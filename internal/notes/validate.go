package notes

import (
	"regexp"
	"strings"
)

var shortWordPattern = regexp.MustCompile(`\b[a-z]{1,3}\b`)

var medicalTerms = []string{
	"patient", "symptoms", "pain", "medication", "history", "exam", "vital", "treatment",
}

// ValidateTranscription checks whether a transcript is likely to yield a
// useful note. Returns false with the list of issues found.
func ValidateTranscription(transcription string, minChars int) (bool, []string) {
	var issues []string

	if len(transcription) < minChars {
		issues = append(issues, "Transcription is too short for meaningful note generation")
	}

	words := strings.Fields(transcription)
	if len(words) < 20 {
		issues = append(issues, "Transcription contains insufficient content")
	}

	if len(words) > 0 {
		garbled := len(shortWordPattern.FindAllString(transcription, -1))
		if float64(garbled)/float64(len(words)) > 0.3 {
			issues = append(issues, "Transcription may contain garbled or incomplete words")
		}
	}

	lowered := strings.ToLower(transcription)
	hasMedicalContext := false
	for _, term := range medicalTerms {
		if strings.Contains(lowered, term) {
			hasMedicalContext = true
			break
		}
	}
	if !hasMedicalContext {
		issues = append(issues, "Transcription may not contain medical conversation content")
	}

	return len(issues) == 0, issues
}
