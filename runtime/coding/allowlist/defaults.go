package allowlist

// defaultSafeImportPatterns is the base set of import patterns always
// permitted unless a caller constructs a Set without it. It mirrors the
// standard-library surface considered safe for sandboxed code: no
// filesystem, network, process, or reflection access.
var defaultSafeImportPatterns = []string{
	"json",
	"math",
	"re",
	"datetime",
	"collections",
	"collections.*",
	"itertools",
	"functools",
	"operator",
	"string",
	"textwrap",
	"unicodedata",
	"decimal",
	"fractions",
	"random",
	"statistics",
	"typing",
	"typing.*",
	"dataclasses",
	"enum",
	"abc",
	"copy",
	"pprint",
	"reprlib",
	"numbers",
	"cmath",
	"time",
	"calendar",
	"hashlib",
	"hmac",
	"base64",
	"binascii",
	"html",
	"html.*",
	"urllib.parse",
	"uuid",
	"struct",
	"codecs",
	"locale",
	"gettext",
	"bisect",
	"heapq",
	"array",
	"weakref",
	"types",
	"contextlib",
	"warnings",
	"traceback",
	"linecache",
	"difflib",
	"graphlib",
	"zoneinfo",
	// Common data science (can be enabled explicitly).
	"numpy",
	"numpy.*",
	"pandas",
	"pandas.*",
	"scipy",
	"scipy.*",
	"matplotlib",
	"matplotlib.*",
}

// DefaultSet returns the default safe-import allowlist.
func DefaultSet() Set {
	return NewSet(defaultSafeImportPatterns...)
}
