// Package semantic asks a vision-capable model whether a candidate image
// depicts the requested shoe model and extracts its descriptive metadata.
//
// Backends (Gemini via google.golang.org/genai, OpenAI-compatible endpoints via
// go-openai) share one prompt and one response parser. Any answer that is not
// an explicit, well-formed approval becomes a rejection verdict; only failures
// to obtain an answer at all are returned as errors.
package semantic
