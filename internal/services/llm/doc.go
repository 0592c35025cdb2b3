// Package llm is the OpenRouter chat client behind the scoring pipeline.
//
// Every call sends one system and one user prompt with response_format
// json_object. CompleteJSON returns the raw reply, CompleteInto decodes it,
// and HealthCheck makes a one-token round trip for preflight.
//
// Requests are retried on 408, 429, 5xx, empty completions, and network
// timeouts: three attempts by default, backing off from 1s to a 10s ceiling,
// with Retry-After taking precedence. Cancellation stops retries at once.
// Failures carry services.ErrUpstream, or services.ErrTimeout when the
// deadline expired.
//
// Token usage reported by the provider is summed per client and can be
// forwarded with WithUsageObserver.
package llm
