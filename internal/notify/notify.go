// Package notify entrega códigos OTP fuera de banda (email y SMS).
//
// El motor MFA despacha fire-and-forget: el envío corre en una goroutine
// propia y un fallo del canal nunca falla el request de setup. El código
// viaja en claro al destino; en el store sólo se persiste su hash.
package notify

import (
	"context"
	"time"

	"github.com/dropDatabas3/salus/internal/domain/types"
)

// OTPSender entrega un código de un solo uso a un destino.
type OTPSender interface {
	// SendOTP envía el código al destino (email o teléfono según el método).
	SendOTP(ctx context.Context, method types.MFAMethod, destination, code string, ttl time.Duration) error
}

// Dispatcher enruta por método al sender que corresponde.
type Dispatcher struct {
	Email OTPSender
	SMS   OTPSender
}

// SendOTP implementa OTPSender delegando por método.
func (d *Dispatcher) SendOTP(ctx context.Context, method types.MFAMethod, destination, code string, ttl time.Duration) error {
	switch method {
	case types.MFAMethodSMS:
		return d.SMS.SendOTP(ctx, method, destination, code, ttl)
	default:
		return d.Email.SendOTP(ctx, method, destination, code, ttl)
	}
}
