package provider

import "time"

// Option defines a common functional options type
type Option func(interface{})

// ApplyOpts takes a pointer to the options struct as a set of default options
// and applies the slice of opts as overrides.
func ApplyOpts(opts interface{}, opt ...Option) {
	for _, o := range opt {
		o(opts)
	}
}

// WithNow provides an optional func for determining the current time. All
// expiry math (token exp, session age, TTL bookkeeping in the in-memory
// store) reads the clock through this one func, which keeps tests
// deterministic and avoids skew between independently taken time snapshots.
func WithNow(now func() time.Time) Option {
	return func(o interface{}) {
		if now == nil {
			return
		}
		switch v := o.(type) {
		case *codecOptions:
			v.withNowFunc = now
		case *flowOptions:
			v.withNowFunc = now
		case *memoryStoreOptions:
			v.withNowFunc = now
		}
	}
}

// WithExpirySkew provides an optional expiry skew duration for token
// verification.
func WithExpirySkew(d time.Duration) Option {
	return func(o interface{}) {
		if v, ok := o.(*codecOptions); ok {
			v.withExpirySkew = d
		}
	}
}

// WithTokenTTL provides an optional expiry for signed access and ID tokens,
// overriding the default of one hour.
func WithTokenTTL(d time.Duration) Option {
	return func(o interface{}) {
		if v, ok := o.(*codecOptions); ok {
			v.withTokenTTL = d
		}
	}
}
