package submit

// Status is what the submission banner shows.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// StatusOf picks the banner: an error wins over a signature, and neither means idle.
func StatusOf(errMsg, signature string) Status {
	switch {
	case errMsg != "":
		return StatusError
	case signature != "":
		return StatusSuccess
	default:
		return StatusIdle
	}
}
