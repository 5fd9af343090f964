package ir

// Domain prefixes for MAC and encryption inputs.
// Version suffix enables future algorithm migration.
const (
	DomainSign    = "vmsync/sign/v1"
	DomainEncrypt = "vmsync/encrypt/v1"
)

// DomainInput builds the byte string domain || 0x00 || part0 || 0x00 || part1 ...
// The null separators prevent boundary ambiguity between domain and parts.
func DomainInput(domain string, parts ...[]byte) []byte {
	size := len(domain)
	for _, p := range parts {
		size += 1 + len(p)
	}
	out := make([]byte, 0, size)
	out = append(out, domain...)
	for _, p := range parts {
		out = append(out, 0x00)
		out = append(out, p...)
	}
	return out
}
