package segmentation

// Run statuses.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// OutcomeError is the error detail of a failed run.
type OutcomeError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Outcome is the single structured result of a train, predict, score or
// segments run: a status with either a result payload or an error.
type Outcome struct {
	Status string        `json:"status"`
	Result interface{}   `json:"result,omitempty"`
	Error  *OutcomeError `json:"error,omitempty"`
}

func Succeeded(result interface{}) Outcome {
	return Outcome{Status: StatusSuccess, Result: result}
}

func Failed(err error) Outcome {
	return Outcome{Status: StatusError, Error: &OutcomeError{Code: Kind(err), Message: err.Error()}}
}
