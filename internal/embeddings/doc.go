// Package embeddings produces text embeddings for the similarity metric.
//
// Two providers are available: FastEmbed runs ONNX models in-process (cgo
// builds only) and TEI calls a text-embeddings-inference server over HTTP.
// Both satisfy measure.Embedder.
package embeddings
