package clientcredentials

// ExternalCacheState tells whether the external cache is consulted.
type ExternalCacheState int32

const (
	// ExternalCacheEnabled means reads and writes go to the external cache.
	ExternalCacheEnabled ExternalCacheState = iota

	// ExternalCacheDisabled is terminal: it is entered when no cache is
	// configured or after the first cache failure.
	ExternalCacheDisabled
)

func (s ExternalCacheState) String() string {
	switch s {
	case ExternalCacheEnabled:
		return "enabled"
	case ExternalCacheDisabled:
		return "disabled"
	}
	return "unknown"
}
