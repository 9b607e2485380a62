package prompt

import (
    _ "embed"
    "strings"
)

// Version identifies the prompt asset set. Bump it together with the file
// suffixes whenever a prompt text changes.
const Version = "v1"

var (
    //go:embed ocr.v1.txt
    ocrInstruction string

    //go:embed analysis.v1.txt
    analysisInstruction string
)

// GetOCRPrompt is the fixed instruction sent with the image in the extraction stage.
func GetOCRPrompt() string {
    return strings.TrimSpace(ocrInstruction)
}

// GetAnalysisPrompt is the fixed analysis instruction (schema, classification
// policy and worked example) followed by the extracted ingredient list.
func GetAnalysisPrompt(extracted string) string {
    return strings.TrimRight(analysisInstruction, " \r\n") + " " + strings.TrimSpace(extracted)
}
