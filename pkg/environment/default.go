package environment

// NewDefaultProvider resolves variables from the process environment first,
// then from a .env file in the working directory when one exists.
func NewDefaultProvider() Provider {
	providers := []Provider{NewOsEnvProvider()}
	if files, err := NewEnvFilesProvider([]string{".env"}); err == nil {
		providers = append(providers, files)
	}
	return NewMultiProvider(providers...)
}
