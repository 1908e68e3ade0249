package constants

// WithBaseDir overrides the user configuration directory lookup.
func WithBaseDir(baseDir func() (string, error)) option {
	return func(o *options) {
		o.baseDir = baseDir
	}
}
