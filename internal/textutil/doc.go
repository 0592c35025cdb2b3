// Package textutil canonicalizes and compares scene text.
//
// Canonical text (NFC, collapsed whitespace) is what content hashes and
// "unchanged" checks are computed over. Similarity gives a 0..1 score for
// how much of a scene survived an edit and feeds version comparisons.
package textutil
