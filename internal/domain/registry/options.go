package registry

type hubConfig struct {
	bufferSize int
}

func defaultConfig() hubConfig {
	return hubConfig{bufferSize: 256}
}

// Option is a functional configuration type for the Hub.
type Option func(*Hub)

// WithBufferSize sets the outbound buffer capacity per connection. It is the
// slow-consumer threshold: once full, further broadcasts are dropped for
// that connection.
func WithBufferSize(size int) Option {
	return func(h *Hub) {
		if size > 0 {
			h.config.bufferSize = size
		}
	}
}
