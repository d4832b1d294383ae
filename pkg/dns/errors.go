package dns

import "errors"

// Errors returned by the ECS injection engine. They are request-scoped:
// callers treat every one of them as a reason to forward the original query.
var (
	// ErrNoClientAddress means no client address was available. It is not a
	// failure, injection is simply skipped.
	ErrNoClientAddress = errors.New("no client address")

	// ErrInvalidAddress means the client address cannot be decomposed into
	// the address bytes expected for its family.
	ErrInvalidAddress = errors.New("invalid client address")

	// ErrMalformedMessage means the DNS message is too short or a length
	// field points past the end of the buffer.
	ErrMalformedMessage = errors.New("malformed dns message")

	// ErrInvalidEncoding means a base64url parameter could not be decoded.
	ErrInvalidEncoding = errors.New("invalid base64url encoding")

	// ErrInvalidOption means the encoded ECS option is not a well-formed
	// EDNS0 option.
	ErrInvalidOption = errors.New("invalid edns0 option")

	// ErrECSPresent means the query already carries an ECS option and was
	// left untouched.
	ErrECSPresent = errors.New("ecs option already present")

	// ErrARCountOverflow means ARCOUNT is already at its maximum, so no OPT
	// record can be appended.
	ErrARCountOverflow = errors.New("additional record count overflow")

	// ErrMessageTooLarge means the patched message would exceed the DNS
	// message size limit.
	ErrMessageTooLarge = errors.New("patched message too large")
)
