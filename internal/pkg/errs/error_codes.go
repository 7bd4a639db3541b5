/*
Package errs provides custom error types and application-level error code constants.

These error codes are used to clearly identify specific business or system errors
both internally within the server and in communication with clients.
*/
package errs

// 1xxx: General Request Handling Errors
const (
	// ErrInvalidParams indicates that request parameter validation failed.
	ErrInvalidParams = 1001

	// ErrUnsupportedMediaType indicates that the request header Content-Type is not supported.
	ErrUnsupportedMediaType = 1002

	// ErrInvalidJSONFormat indicates that the request body JSON format is incorrect (e.g., syntax error).
	ErrInvalidJSONFormat = 1003

	// ErrExtraContentInBody indicates that the request body contained extra content after valid JSON data.
	ErrExtraContentInBody = 1004

	// ErrRateLimitExceeded indicates that the request rate has exceeded the set limit.
	ErrRateLimitExceeded = 1005
)

// 2xxx: Room and Message Business Logic Errors
const (
	// ErrRoomKeyInvalid indicates a structurally invalid room identifier.
	ErrRoomKeyInvalid = 2101

	// ErrMessageNotFound indicates that the referenced message id is unknown in its room.
	ErrMessageNotFound = 2102

	// ErrMessageContentTooLong indicates that the message body exceeded the maximum length limit.
	ErrMessageContentTooLong = 2201

	// ErrStatusInvalid indicates an unrecognized delivery status value.
	ErrStatusInvalid = 2202

	// ErrReactionInvalid indicates a missing or malformed reaction emoji.
	ErrReactionInvalid = 2203

	// ErrAttachmentInvalid indicates a rejected attachment descriptor (name/type mismatch).
	ErrAttachmentInvalid = 2301

	// ErrFileSizeTooLarge indicates that the attachment exceeds the size limit.
	ErrFileSizeTooLarge = 2302

	// ErrAttachmentKeyInvalid indicates an attachment storage key outside the room's prefix.
	ErrAttachmentKeyInvalid = 2303
)

// 3xxx: Authentication and Session Errors
const (
	// ErrUnauthorized indicates a request without a valid authenticated identity.
	ErrUnauthorized = 3001

	// ErrTokenInvalid indicates a missing, malformed, or expired auth token.
	ErrTokenInvalid = 3002

	// ErrAuthTimeout indicates that a connection sent no valid auth frame within the window.
	ErrAuthTimeout = 3003

	// ErrNotAuthenticated indicates a frame that requires authentication arrived before auth completed.
	ErrNotAuthenticated = 3004

	// ErrInternalKeyInvalid indicates a service-to-service request with a wrong shared secret.
	ErrInternalKeyInvalid = 3005
)

// 5xxx: Internal System Errors
const (
	// ErrUnknown represents an unclassified, general server internal error.
	ErrUnknown = 5000

	// ErrStorageFailed indicates a failed durable-store operation.
	ErrStorageFailed = 5001

	// ErrFileStorageFailed indicates a failed object-storage operation (presign).
	ErrFileStorageFailed = 5002
)
