package routes

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"
)

func handleJSON(w http.ResponseWriter, data interface{}) error {
	// marshal data
	bytes, err := json.Marshal(data)
	if err != nil {
		return err
	}
	// write response
	w.Header().Set("Content-Type", "application/json")
	_, err = w.Write(bytes)
	if err != nil {
		return err
	}
	return nil
}

// handleErrorType logs the full error and responds with an opaque message.  Used
// for failures the caller cannot act on.
func handleErrorType(w http.ResponseWriter, err error, code int, logger *zap.SugaredLogger) {
	logger.Errorf("%+v", err)
	errMessage := "An error occured on the server while processing the request"
	http.Error(w, errMessage, code)
}

// handleErrorMessage logs the error and responds with its message in the body, in
// the `{error}` shape the dashboard expects for actionable failures (bad date
// lists, duplicate runs, selection conflicts).
func handleErrorMessage(w http.ResponseWriter, err error, code int, logger *zap.SugaredLogger) {
	logger.Warnf("%+v", err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
