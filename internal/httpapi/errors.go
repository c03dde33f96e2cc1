package httpapi

import (
	"net/http"

	"github.com/go-chi/render"
)

// Error bodies.
const (
	msgNotFound      = "Dataset not found"
	msgValidation    = "Validation failed"
	msgCSVValidation = "CSV validation failed"
	msgProcessing    = "An error occurred while processing the file."
	msgReportFailed  = "Failed to generate report"
	msgInternal      = "Internal server error"
	msgBadFormat     = "Unsupported report format"
	msgInvalidID     = "Invalid dataset id"
	msgNoFile        = "No file was submitted."
	msgOnlyCSV       = "Only CSV files are allowed."
	msgFileTooLarge  = "CSV file must be under %dMB."
)

type errorBody struct {
	Error   string `json:"error"`
	Details any    `json:"details,omitempty"`
}

func writeError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	writeErrorDetails(w, r, status, msg, nil)
}

func writeErrorDetails(w http.ResponseWriter, r *http.Request, status int, msg string, details any) {
	render.Status(r, status)
	render.JSON(w, r, errorBody{Error: msg, Details: details})
}

// fieldErrors is the details shape for request validation failures.
func fieldErrors(field, msg string) map[string][]string {
	return map[string][]string{field: {msg}}
}
