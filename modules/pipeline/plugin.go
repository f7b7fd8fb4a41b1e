package pipeline

// Plugin transforms the content of a non-script asset file before it is
// written. path is the source file being transformed.
type Plugin interface {
	Transform(path, content string) (string, error)
}

// PluginFunc adapts a function to Plugin.
type PluginFunc func(path, content string) (string, error)

// Transform calls f.
func (f PluginFunc) Transform(path, content string) (string, error) {
	return f(path, content)
}

// Import maps a logical module name to a filesystem location for the
// bundler.
type Import struct {
	Name     string `json:"name"`
	Location string `json:"location"`
}
