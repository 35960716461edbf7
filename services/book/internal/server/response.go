package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"bookshelf/pkg/domain"
)

const (
	statusSuccess = "success"
	statusFail    = "fail"
	statusError   = "error"
)

type envelope struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// operationMessages holds the client-facing failure messages of one book operation.
type operationMessages struct {
	prefix   string
	notFound string
}

var (
	createMessages = operationMessages{prefix: "Failed to add book"}
	getMessages    = operationMessages{prefix: "Failed to get book", notFound: "Book not found"}
	updateMessages = operationMessages{prefix: "Failed to update book", notFound: "Failed to update book. Id not found"}
	deleteMessages = operationMessages{prefix: "Failed to delete book", notFound: "Failed to delete book. Id not found"}
)

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeFail(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, envelope{Status: statusFail, Message: msg})
}

// writeBookError maps a domain error to its status code and message.
func writeBookError(w http.ResponseWriter, msgs operationMessages, err error) {
	var validation *domain.ValidationError
	switch {
	case errors.Is(err, domain.ErrMissingName):
		writeFail(w, http.StatusBadRequest, msgs.prefix+". Please fill in the book name")
	case errors.Is(err, domain.ErrReadPageExceedsPageCount):
		writeFail(w, http.StatusBadRequest, msgs.prefix+". readPage must not be greater than pageCount")
	case errors.Is(err, domain.ErrNegativePages):
		writeFail(w, http.StatusBadRequest, msgs.prefix+". pageCount and readPage must not be negative")
	case errors.As(err, &validation):
		writeFail(w, http.StatusBadRequest, msgs.prefix+". "+validation.Reason)
	case errors.Is(err, domain.ErrNotFound) && msgs.notFound != "":
		writeFail(w, http.StatusNotFound, msgs.notFound)
	default:
		writeJSON(w, http.StatusInternalServerError, envelope{Status: statusError, Message: msgs.prefix})
	}
}
