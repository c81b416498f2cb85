// Package simulation provides the scripted demo session: a YAML script that
// drives the scripted transcription backend and insight provider, and a
// synthetic capture source that feeds tone audio and screen text.
package simulation
