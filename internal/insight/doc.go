// Package insight generates hints, battlecards, competitor research and the
// session summary through pluggable providers, with timeouts and
// deterministic fallbacks.
package insight
