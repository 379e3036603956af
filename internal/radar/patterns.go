package radar

import "regexp"

// PatternGroup is one family of risk indicators. Weight is added to the
// score once per matching pattern per file.
type PatternGroup struct {
	Name     string
	Weight   int
	Patterns []*regexp.Regexp
}

// DefaultPatternGroups returns the built-in static analysis rules. They are
// plain data so tests and deployments can substitute smaller tables.
func DefaultPatternGroups() []PatternGroup {
	return []PatternGroup{
		{
			Name:   "crypto-mining",
			Weight: 10,
			Patterns: []*regexp.Regexp{
				regexp.MustCompile(`\bmining\b`),
				regexp.MustCompile(`\bminer\b`),
				regexp.MustCompile(`\b(bitcoin|ethereum|monero|litecoin)\b`),
				regexp.MustCompile(`cryptocurrency|crypto.?night`),
				regexp.MustCompile(`\bhashrate\b|\bhashes?.per.second\b`),
				regexp.MustCompile(`stratum\+tcp|\bnicehash\b|\bxmrig\b|\bcpuminer\b`),
				regexp.MustCompile(`mining.?pool|pool.?mining`),
				regexp.MustCompile(`\bgpu\b|\bcuda\b|\bopencl\b`),
			},
		},
		{
			Name:   "network-abuse",
			Weight: 10,
			Patterns: []*regexp.Regexp{
				regexp.MustCompile(`\bddos\b|denial.of.service`),
				regexp.MustCompile(`\bflood(er|ing)?\b`),
				regexp.MustCompile(`\bbotnet\b`),
				regexp.MustCompile(`\battack(er)?\b`),
				regexp.MustCompile(`proxy.?list|\bsocks[45]\b`),
				regexp.MustCompile(`port.?scan|\bnmap\b`),
				regexp.MustCompile(`\bspam(mer|ming)?\b`),
			},
		},
		{
			Name:   "resource-exhaustion",
			Weight: 10,
			Patterns: []*regexp.Regexp{
				regexp.MustCompile(`while\s*\(\s*true\s*\)|while\s+true\s*:`),
				regexp.MustCompile(`os\.fork|child_process\.fork|\bfork.?bomb\b`),
				regexp.MustCompile(`multiprocessing\.pool|cluster\.fork`),
				regexp.MustCompile(`\[\s*0\s*\]\s*\*\s*10\s*\*\*\s*\d+|new\s+array\s*\(\s*1e\d+`),
				regexp.MustCompile(`setinterval\s*\(\s*[^,]+,\s*0\s*\)`),
			},
		},
		{
			Name:   "obfuscation",
			Weight: 15,
			Patterns: []*regexp.Regexp{
				regexp.MustCompile(`\beval\s*\(`),
				regexp.MustCompile(`\bexec\s*\(\s*compile`),
				regexp.MustCompile(`(\\x[0-9a-f]{2}){8,}`),
				regexp.MustCompile(`(\\u[0-9a-f]{4}){8,}`),
				regexp.MustCompile(`base64\.b64decode\s*\(|atob\s*\(`),
			},
		},
	}
}
