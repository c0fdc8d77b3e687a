// Package secrets detects credentials in source text.
//
// The mutator uses it to warn when a fix introduces a secret that was not
// present before, and the backends use it to redact error messages before
// they leave the process. Two scanners are available: Detector, a compact
// built-in rule set, and Gitleaks, which runs the gitleaks default rules.
package secrets
