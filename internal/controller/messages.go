package controller

import (
	"errors"

	"github.com/Freeeeeet/visitor_gate/internal/service"
)

const (
	msgApproved        = "✅ Visita autorizada. Avisamos a portería."
	msgDenied          = "❌ Visita rechazada."
	msgAlreadyHandled  = "⌛ Esta solicitud ya fue respondida o expiró."
	msgSessionGone     = "⌛ Esta solicitud ya no existe."
	msgNotLinked       = "❌ No encontramos tu número entre los residentes. Usa /start o contacta a administración."
	msgForeignContact  = "❌ Comparte tu propio número de teléfono."
	msgInvalidCallback = "❌ Datos inválidos."
	msgGenericError    = "❌ Ocurrió un error. Intenta nuevamente."
)

// ErrorMessage возвращает пользовательское сообщение для ошибки
func ErrorMessage(err error) string {
	switch {
	case errors.Is(err, service.ErrStateConflict):
		return msgAlreadyHandled
	case errors.Is(err, service.ErrNotFound):
		return msgSessionGone
	case errors.Is(err, service.ErrValidation):
		return msgInvalidCallback
	default:
		return msgGenericError
	}
}

// isFinalError после таких ошибок кнопки уже бесполезны
func isFinalError(err error) bool {
	return errors.Is(err, service.ErrStateConflict) || errors.Is(err, service.ErrNotFound)
}
