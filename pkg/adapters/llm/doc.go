// Package llm provides model backend implementations.
//
// The factory creates a backend (tokenizer + model) based on provider
// configuration. Currently supports:
//   - llama.cpp llama-server over HTTP
package llm
