// Package transcription uploads finalized segments to a speech-to-text
// service and delivers the returned text to the transcript.
//
// Two backends implement Transcriber: Client posts a multipart form
// (file, model, optional language and prompt) to any compatible endpoint,
// and OpenAIClient goes through the OpenAI SDK. The Dispatcher runs each
// upload on its own goroutine without retries; failures surface as
// *RequestError (transport) or *ResponseError (status or body).
package transcription
