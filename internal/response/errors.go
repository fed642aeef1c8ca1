package response

// ErrCode is a typed error code enum for consistent API error identification.
type ErrCode string

const (
	// ─── Authentication ────────────────────────────────────────────────
	ErrTokenRequired ErrCode = "TOKEN_REQUIRED"
	ErrTokenInvalid  ErrCode = "TOKEN_INVALID"
	ErrTokenExpired  ErrCode = "TOKEN_EXPIRED"

	// ─── Authorization ─────────────────────────────────────────────────
	ErrForbidden         ErrCode = "FORBIDDEN"
	ErrStudentAccessOnly ErrCode = "STUDENT_ACCESS_ONLY"

	// ─── Validation ────────────────────────────────────────────────────
	ErrValidation     ErrCode = "VALIDATION_ERROR"
	ErrInvalidID      ErrCode = "INVALID_ID"
	ErrInvalidPayload ErrCode = "INVALID_PAYLOAD"

	// ─── Attempt lifecycle ─────────────────────────────────────────────
	ErrExamNotFound     ErrCode = "EXAM_NOT_FOUND"
	ErrNotStarted       ErrCode = "ATTEMPT_NOT_STARTED"
	ErrAlreadyFinalized ErrCode = "ATTEMPT_ALREADY_FINALIZED"
	ErrExpired          ErrCode = "ATTEMPT_EXPIRED"

	// ─── Rate Limiting ─────────────────────────────────────────────────
	ErrRateLimitExceeded ErrCode = "RATE_LIMIT_EXCEEDED"

	// ─── Server ────────────────────────────────────────────────────────
	ErrInternal ErrCode = "INTERNAL_ERROR"
)

// GetMessage returns a human-readable message for a given error code.
func GetMessage(code ErrCode) string {
	switch code {
	// ─── Authentication ────────────────────────────────────────────────
	case ErrTokenRequired:
		return "Se requiere un token de autenticación."
	case ErrTokenInvalid:
		return "El token de autenticación no es válido."
	case ErrTokenExpired:
		return "El token de autenticación ha expirado."

	// ─── Authorization ─────────────────────────────────────────────────
	case ErrForbidden:
		return "No tienes permiso para acceder a este recurso."
	case ErrStudentAccessOnly:
		return "Este recurso está restringido a alumnos."

	// ─── Validation ────────────────────────────────────────────────────
	case ErrValidation:
		return "Validación fallida. Revisa los datos enviados."
	case ErrInvalidID:
		return "El formato de ID no es válido."
	case ErrInvalidPayload:
		return "El cuerpo de la petición no es válido."

	// ─── Attempt lifecycle ─────────────────────────────────────────────
	case ErrExamNotFound:
		return "El examen no existe."
	case ErrNotStarted:
		return "El examen aún no ha sido iniciado."
	case ErrAlreadyFinalized:
		return "El examen ya fue finalizado y no puede repetirse."
	case ErrExpired:
		return "El tiempo del examen ha terminado."

	// ─── Rate Limiting ─────────────────────────────────────────────────
	case ErrRateLimitExceeded:
		return "Demasiadas peticiones. Inténtalo de nuevo más tarde."

	// ─── Server ────────────────────────────────────────────────────────
	case ErrInternal:
		return "Ocurrió un error interno del servidor."
	default:
		return "Ocurrió un error inesperado."
	}
}
