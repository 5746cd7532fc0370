package transcription

import "fmt"

// RequestError is a transport failure: the request never produced a response
type RequestError struct {
	Index int
	Err   error
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("transcription request for segment %d failed: %v", e.Index, e.Err)
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

// ResponseError is a non-2xx status or a body without a usable text field
type ResponseError struct {
	Index      int
	StatusCode int
	Body       string
	Err        error
}

func (e *ResponseError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("transcription response for segment %d: HTTP %d: %v", e.Index, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("transcription response for segment %d: %v", e.Index, e.Err)
}

func (e *ResponseError) Unwrap() error {
	return e.Err
}

// maxErrorBody bounds the response body kept on a ResponseError
const maxErrorBody = 512

func truncateBody(body []byte) string {
	if len(body) > maxErrorBody {
		return string(body[:maxErrorBody]) + "..."
	}
	return string(body)
}
