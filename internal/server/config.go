package server

// Config holds the values spec section 3's ServerConfig groups:
// the admission limit, the per-image byte ceiling, and the listen
// address. A zero ConnectionLimit means unbounded concurrency (no
// admission channel); a zero MaxImageBytes means no application-level
// cap beyond the wire's 32-bit length field (wire.NoImageLimit).
type Config struct {
	ConnectionLimit uint32
	MaxImageBytes   uint32
	Addr            string
	BadPrefixFile   string
}
