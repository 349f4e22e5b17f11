// Package chat implements the chat completion flow.
//
// The service handles one request at a time per call:
//   - Validates the message list and sampling parameters
//   - Renders the messages through the model's chat template
//   - Encodes the prompt and runs a single blocking generation
//   - Strips the echoed prompt, decodes and trims the reply
//   - Publishes a lifecycle event and records metrics
//
// The tokenizer and model are shared read-only across requests.
package chat
