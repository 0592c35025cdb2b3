// Package scoring runs the scatter-gather analysis of a script.
//
// Four analyzers (hook, structure, emotional impact, call to action) run
// concurrently against the same input. A synthesizer waits for all of them
// and combines their breakdowns into a single script.Analysis. Any analyzer
// failure or timeout fails the whole run; no partial result is returned.
//
// Analyzers come in two flavours selected by configuration: LLM-backed ones
// that call the chat-completions client, and deterministic heuristic ones
// that score text locally. Results can be cached by input content.
package scoring
