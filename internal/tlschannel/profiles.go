package tlschannel

import "crypto/tls"

// VersionProfile names a min/max TLS version range an embedder can pick
// by name instead of raw version constants.
type VersionProfile struct {
	Min         uint16
	Max         uint16
	Description string
}

var (
	// ProfileModern negotiates TLS 1.3 only.
	ProfileModern = VersionProfile{
		Min:         tls.VersionTLS13,
		Max:         tls.VersionTLS13,
		Description: "TLS 1.3 only - maximum security, modern peers only",
	}

	// ProfileSecure is the engine default: TLS 1.2 and 1.3.
	ProfileSecure = VersionProfile{
		Min:         tls.VersionTLS12,
		Max:         tls.VersionTLS13,
		Description: "TLS 1.2+ - secure and widely compatible",
	}

	// ProfileCompatible extends down to TLS 1.0 for legacy peers.
	ProfileCompatible = VersionProfile{
		Min:         tls.VersionTLS10,
		Max:         tls.VersionTLS13,
		Description: "TLS 1.0+ - maximum compatibility, includes deprecated versions",
	}
)

// GetVersionName returns a human-readable name for a TLS version, used
// in connection-view introspection (§6.4).
func GetVersionName(version uint16) string {
	switch version {
	case tls.VersionTLS10:
		return "TLS 1.0"
	case tls.VersionTLS11:
		return "TLS 1.1"
	case tls.VersionTLS12:
		return "TLS 1.2"
	case tls.VersionTLS13:
		return "TLS 1.3"
	default:
		return "Unknown"
	}
}

// IsVersionDeprecated reports whether version predates the recommended
// minimum (TLS 1.2).
func IsVersionDeprecated(version uint16) bool {
	return version < tls.VersionTLS12
}

// Cipher suites grouped by the version profile that recommends them.
// TLS 1.3 negotiates its own suites and ignores this list entirely.
var (
	CipherSuitesTLS12Secure = []uint16{
		tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
		tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
		tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
		tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
		tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305_SHA256,
		tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305_SHA256,
	}

	CipherSuitesTLS12Compatible = []uint16{
		tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
		tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
		tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
		tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
		tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305_SHA256,
		tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305_SHA256,
		tls.TLS_ECDHE_RSA_WITH_AES_128_CBC_SHA256,
		tls.TLS_ECDHE_RSA_WITH_AES_128_CBC_SHA,
		tls.TLS_ECDHE_ECDSA_WITH_AES_128_CBC_SHA256,
		tls.TLS_ECDHE_ECDSA_WITH_AES_128_CBC_SHA,
		tls.TLS_ECDHE_RSA_WITH_AES_256_CBC_SHA,
		tls.TLS_ECDHE_ECDSA_WITH_AES_256_CBC_SHA,
	}
)

// GetCipherSuiteName returns a human-readable name for a cipher suite
// id, falling back to the stdlib's own lookup for anything outside our
// curated tables.
func GetCipherSuiteName(suite uint16) string {
	if name := tls.CipherSuiteName(suite); name != "" {
		return name
	}
	return "Unknown"
}

// ApplyVersionProfile sets MinVersion/MaxVersion from a named profile.
func ApplyVersionProfile(cfg *tls.Config, profile VersionProfile) {
	cfg.MinVersion = profile.Min
	cfg.MaxVersion = profile.Max
}

// ApplyCipherSuites picks a cipher suite table consistent with the
// configured minimum version. TLS 1.3-only configs leave CipherSuites
// nil since the stdlib selects among its fixed TLS 1.3 suites itself.
func ApplyCipherSuites(cfg *tls.Config, minVersion uint16) {
	switch {
	case minVersion >= tls.VersionTLS13:
		cfg.CipherSuites = nil
	case minVersion >= tls.VersionTLS12:
		cfg.CipherSuites = CipherSuitesTLS12Secure
	default:
		cfg.CipherSuites = CipherSuitesTLS12Compatible
	}
}
