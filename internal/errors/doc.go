// Package errors provides coded, actionable errors for collabd's
// configuration and command-line surface.
//
// Each error has a registered code (e.g., "E101") that maps to a category,
// a short message and a longer detail. Call sites add the specifics with
// WithDetail and WithSuggestion and may wrap an underlying cause.
//
// # Usage
//
//	err := errors.New("E101").
//	    WithDetail("No collab.json found in /srv/collab").
//	    WithSuggestion("Run 'collabd serve --config path/to/collab.json'")
//
//	errors.PrintError(err)
//	// Output:
//	// ERROR E101: Configuration file not found
//	//
//	//   No collab.json found in /srv/collab
//	//
//	//   Hint: Run 'collabd serve --config path/to/collab.json'
package errors
