package rp

// Option defines a common functional options type which can be used in a
// variadic parameter pattern.
type Option func(interface{})

// ApplyOpts takes a pointer to the options struct as a set of default options
// and applies the slice of opts as overrides.
func ApplyOpts(opts interface{}, opt ...Option) {
	for _, o := range opt {
		if o == nil {
			continue
		}
		o(opts)
	}
}

// WithScopes provides the scopes to request beyond the always-requested
// openid scope.
//
// Valid for: Config
func WithScopes(scopes ...string) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withScopes = append(o.withScopes, scopes...)
		}
	}
}

// WithProviderCA provides an optional CA cert PEM to trust when talking to
// the provider, instead of the system CA chain.
//
// Valid for: Config
func WithProviderCA(caPEM string) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withProviderCA = caPEM
		}
	}
}

// WithPublicClient marks the client as public: no client secret, PKCE
// required.
//
// Valid for: Config
func WithPublicClient() Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withPublicClient = true
		}
	}
}
