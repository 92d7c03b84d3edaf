/*
Package llm holds the backend registry and the request router.

The Registry owns BackendDescriptors: immutable records of one configured
model backend (provider adapter, capabilities, priority). The Router turns
an EditRequest into a prompt, dispatches it to the highest-priority
backend, and falls back across the remaining candidates on transport
failure, each backend tried at most once per call. The raw completion it
returns is opaque here; the translate package gives it meaning.
*/
package llm
