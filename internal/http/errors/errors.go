package errors

import (
	"encoding/json"
	"net/http"

	"github.com/dropDatabas3/salus/internal/observability/logger"
)

// errorResponse es el sobre JSON que viaja al cliente
type errorResponse struct {
	Error *AppError `json:"error"`
}

// WriteError serializa un AppError y lo escribe en la respuesta.
// La causa interna (Err) nunca viaja al cliente: se loguea acá.
func WriteError(w http.ResponseWriter, err error) {
	appErr := FromError(err)

	if appErr.HTTPStatus >= http.StatusInternalServerError {
		logger.L().Error("error interno",
			logger.Layer("http"),
			logger.String("code", appErr.Code),
			logger.Err(appErr.Err),
		)
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(appErr.HTTPStatus)

	if encErr := json.NewEncoder(w).Encode(errorResponse{Error: appErr}); encErr != nil {
		logger.L().Error("no se pudo serializar la respuesta de error", logger.Err(encErr))
	}
}
