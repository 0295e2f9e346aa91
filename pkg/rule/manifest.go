package rule

// BuiltinManifest returns the default rule set compiled into the binary.
// These mirror the CVI-numbered rules shipped with the original scanner's
// rules/ package, trimmed to the handful exercised by this engine's
// end-to-end scenarios (spec §8, E1-E6).
func BuiltinManifest() []Rule {
	return []Rule{
		{
			ID:          "2001",
			Name:        "direct-output-xss",
			Language:    PHP,
			Author:      "cvitracer",
			Severity:    7,
			Enabled:     true,
			MatchMode:   FunctionParamControllable,
			Match:       []string{"echo", "print"},
			VulFunction: "echo",
		},
		{
			ID:        "2002",
			Name:      "command-injection",
			Language:  PHP,
			Author:    "cvitracer",
			Severity:  9,
			Enabled:   true,
			MatchMode: FunctionParamControllable,
			Match:     []string{"system", "exec", "shell_exec", "passthru"},
		},
		{
			ID:        "2003",
			Name:      "sql-string-concat",
			Language:  PHP,
			Author:    "cvitracer",
			Severity:  8,
			Enabled:   true,
			MatchMode: RegexOnly,
			Match:     []string{`(?i)mysqli?_query\s*\(`},
			Unmatch:   []string{`(?i)prepare\s*\(`},
		},
		{
			ID:        "3001",
			Name:      "tx-origin-auth",
			Language:  Solidity,
			Author:    "cvitracer",
			Severity:  6,
			Enabled:   true,
			MatchMode: RegexOnly,
			Match:     []string{`tx\.origin`},
		},
		{
			ID:        "4001",
			Name:      "document-write-sink",
			Language:  JavaScript,
			Author:    "cvitracer",
			Severity:  5,
			Enabled:   true,
			MatchMode: RegexOnly,
			Match:     []string{`document\.write\s*\(`},
		},
		{
			ID:        "5001",
			Name:      "manifest-broad-permission",
			Language:  BrowserExtension,
			Author:    "cvitracer",
			Severity:  4,
			Enabled:   true,
			MatchMode: ExtKeywordMatch,
			Keyword:   `"permissions"`,
			Match:     []string{`"<all_urls>"`},
		},
	}
}
