package assets

import _ "embed"

// Embedded sample data. These are compiled into the binary at build time.

// DemoTrace is a short recorded checkout: a few pointer moves, a click
// into the email field, typing in both fields and a submit.
//
//go:embed demo_trace.json
var DemoTrace []byte
