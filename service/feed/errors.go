package feed

import "errors"

// ErrPageOutOfRange is returned when a page outside [1, totalPages] is requested.
var ErrPageOutOfRange = errors.New("page out of range")

// FetchFailedMessage is shown when an assembly failure carries no text.
const FetchFailedMessage = "Failed to fetch memos."

// Message renders an assembly error for display.
func Message(err error) string {
	if err == nil {
		return ""
	}
	if msg := err.Error(); msg != "" {
		return msg
	}
	return FetchFailedMessage
}
