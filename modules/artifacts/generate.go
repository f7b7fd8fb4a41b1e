package artifacts

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"text/template"

	"github.com/GoCodeAlone/dappkit/modules/pipeline"
)

var contractTemplate = template.Must(template.New("contract").Parse(`import Runtime from '../runtime';
import artifact from '{{.Artifact}}';

const {{.ClassName}} = Runtime.contract(artifact);
export default {{.ClassName}};
`))

var runtimeTemplate = template.Must(template.New("runtime").Parse(`const Runtime = {
  rpcURL: {{printf "%q" .RPCURL}},
  contract(artifact) {
    return Object.assign({}, artifact, {rpcURL: Runtime.rpcURL});
  }
};

export default Runtime;
`))

var placeholderTemplate = template.Must(template.New("placeholder").Parse(`<!DOCTYPE html>
<html>
  <head>
    <meta charset="utf-8">
    <meta http-equiv="refresh" content="2">
    <title>{{html .Title}}</title>
  </head>
  <body>
    <h1>{{html .Title}}</h1>
  </body>
</html>
`))

// Generator writes the generated modules of one dapp.
type Generator struct {
	DappPath      string
	GenerationDir string
	BuildDir      string
}

// Contract writes <generationDir>/contracts/<className>.js and returns its
// path relative to the dapp.
func (g Generator) Contract(className string) (string, error) {
	if err := pipeline.ValidateClassName(className); err != nil {
		return "", err
	}
	rel := filepath.Join(g.GenerationDir, "contracts", className+".js")
	dst := filepath.Join(g.DappPath, rel)

	artifact, err := filepath.Rel(filepath.Dir(dst), filepath.Join(g.DappPath, g.BuildDir, "contracts", className+".json"))
	if err != nil {
		return "", err
	}
	data := struct{ ClassName, Artifact string }{className, filepath.ToSlash(artifact)}
	if err := render(dst, contractTemplate, data); err != nil {
		return "", fmt.Errorf("generate %s: %w", className, err)
	}
	return rel, nil
}

// Runtime writes the runtime bridge module.
func (g Generator) Runtime(rpcURL string, name string) error {
	return render(filepath.Join(g.DappPath, g.GenerationDir, name), runtimeTemplate, struct{ RPCURL string }{rpcURL})
}

// Placeholder writes the page served while a build is running.
func (g Generator) Placeholder(title string) error {
	return render(filepath.Join(g.DappPath, g.BuildDir, "index.html"), placeholderTemplate, struct{ Title string }{title})
}

func render(dst string, tmpl *template.Template, data any) error {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	return os.WriteFile(dst, buf.Bytes(), 0o644)
}
