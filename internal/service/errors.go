package service

import (
	"errors"
	"fmt"

	"github.com/Freeeeeet/visitor_gate/internal/model"
)

// Таксономия ошибок сервиса. Вызывающий код проверяет через errors.Is.
var (
	ErrValidation    = errors.New("validation error")
	ErrNotFound      = errors.New("not found")
	ErrStateConflict = errors.New("state conflict")
	// ErrDownstreamDelivery никогда не возвращается из публичных операций,
	// только логируется в месте вызова
	ErrDownstreamDelivery = errors.New("downstream delivery failed")
)

func validationErrorf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func notFoundErrorf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

func conflictErrorf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrStateConflict, fmt.Sprintf(format, args...))
}

func deliveryError(sink string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrDownstreamDelivery, sink, err)
}

// transitionError переводит отказ машины состояний в StateConflict
func transitionError(err error) error {
	switch {
	case errors.Is(err, model.ErrIllegalTransition),
		errors.Is(err, model.ErrOutsideWindow),
		errors.Is(err, model.ErrQuotaExhausted),
		errors.Is(err, model.ErrAlreadyUsed),
		errors.Is(err, model.ErrNotExpired):
		return fmt.Errorf("%w: %w", ErrStateConflict, err)
	}
	return err
}
