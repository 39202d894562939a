package protocol

const (
	// Protocol/transport validation.
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"

	// Envelope payload validation.
	ErrBadDtype = "E_BAD_DTYPE"
	ErrBadShape = "E_BAD_SHAPE"

	// Service side.
	ErrBusy      = "E_BUSY"
	ErrInference = "E_INFERENCE"
	ErrInternal  = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest: {},
	ErrBadDtype:        {},
	ErrBadShape:        {},
	ErrBusy:            {},
	ErrInference:       {},
	ErrInternal:        {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}
