// Package model defines the records shared by every stage of an interaction.
//
// A Session is the immutable snapshot of what the invoking user asked for. It
// is written once at admission and every later attempt rehydrates it from the
// store; nothing here carries behavior beyond small derived accessors.
//
// A Message is the payload the chat platform renders for the interaction's
// original response. The same type is used for progress notices, results and
// redaction notices, and a delivered result is persisted verbatim so the
// countdown can re-render it without recomputing the ranking.
//
// All records serialize with goccy/go-json (see Encode/Decode) so the store
// backends only ever see opaque bytes.
package model
