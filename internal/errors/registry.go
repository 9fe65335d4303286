package errors

import "sort"

// ErrorTemplate defines a registered error type.
type ErrorTemplate struct {
	Category Category
	Message  string
	Detail   string
}

// registry maps error codes to their templates.
var registry = map[string]ErrorTemplate{
	// ============================================
	// Configuration Errors (E100-E119)
	// ============================================

	"E101": {
		Category: CategoryConfig,
		Message:  "Configuration file not found",
		Detail:   "collabd could not find the configuration file it was pointed at.",
	},
	"E102": {
		Category: CategoryConfig,
		Message:  "Invalid configuration file",
		Detail:   "The configuration file could not be read or is not valid JSON.",
	},
	"E103": {
		Category: CategoryConfig,
		Message:  "Invalid listen address",
		Detail:   "The server address must be a host:port pair, e.g. \":8080\".",
	},
	"E104": {
		Category: CategoryConfig,
		Message:  "Invalid duration",
		Detail:   "Durations are strings such as \"30s\" or \"1m\" and must be positive.",
	},
	"E105": {
		Category: CategoryConfig,
		Message:  "Missing parse endpoint",
		Detail:   "Documents are rendered by the parse service, so its base URL is required.",
	},
	"E106": {
		Category: CategoryConfig,
		Message:  "Incomplete S3 publish configuration",
		Detail:   "Publishing to S3 requires both a bucket and a region.",
	},
	"E107": {
		Category: CategoryConfig,
		Message:  "Invalid size limit",
		Detail:   "Message size and queue length limits must be positive.",
	},
	"E108": {
		Category: CategoryConfig,
		Message:  "Configuration write failed",
		Detail:   "The configuration could not be written to disk.",
	},

	// ============================================
	// Runtime Errors (E120-E139)
	// ============================================

	"E120": {
		Category: CategoryRuntime,
		Message:  "Redis cache unavailable",
		Detail:   "The parse cache could not reach the configured Redis server.",
	},
	"E121": {
		Category: CategoryRuntime,
		Message:  "Server failed",
		Detail:   "The HTTP server stopped with an error.",
	},

	// ============================================
	// CLI Errors (E140-E159)
	// ============================================

	"E140": {
		Category: CategoryCLI,
		Message:  "Invalid flag value",
		Detail:   "A command-line flag has a value collabd cannot use.",
	},
}

// Codes returns every registered code in ascending order.
func Codes() []string {
	codes := make([]string, 0, len(registry))
	for code := range registry {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// Lookup returns the template for code.
func Lookup(code string) (ErrorTemplate, bool) {
	t, ok := registry[code]
	return t, ok
}
