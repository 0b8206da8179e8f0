package apiserver

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/is-app/dnsdesk/pkg/backend"
	"github.com/is-app/dnsdesk/pkg/model"
	"github.com/sirupsen/logrus"
)

func writeError(w http.ResponseWriter, httpStatus int, err error) {
	if httpStatus >= http.StatusInternalServerError {
		logrus.Errorf("got a response error: %v", err)
	} else {
		logrus.Debugf("got a response error: %v", err)
	}
	o := model.ErrorResponse{
		Status:  httpStatus,
		Message: err.Error(),
	}
	res, _ := json.Marshal(o)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)
	_, _ = w.Write(res)
}

func writeSuccess(w http.ResponseWriter, httpStatus int, data interface{}) {
	res, err := json.Marshal(data)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)
	_, _ = w.Write(res)
}

// handleError maps lifecycle errors to a status and a message that is safe to show the user.
func handleError(w http.ResponseWriter, err error) {
	var validationErr *model.ValidationError
	var providerErr *model.ProviderError

	switch {
	case errors.As(err, &validationErr):
		writeError(w, http.StatusUnprocessableEntity, err)
	case errors.Is(err, model.ErrDuplicateActive):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, backend.ErrSweepInProgress):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, model.ErrNotFound):
		writeError(w, http.StatusNotFound, model.ErrNotFound)
	case errors.Is(err, model.ErrForbidden):
		writeError(w, http.StatusForbidden, model.ErrForbidden)
	case errors.As(err, &providerErr):
		writeError(w, http.StatusBadGateway, err)
	case errors.Is(err, model.ErrStoreUnavailable):
		logrus.Errorf("store error: %v", err)
		writeError(w, http.StatusServiceUnavailable, model.ErrStoreUnavailable)
	default:
		logrus.Errorf("unexpected error: %v", err)
		writeError(w, http.StatusInternalServerError, errors.New("an unexpected error occurred"))
	}
}
