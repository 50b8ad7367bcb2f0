// Package prompt loads and renders the system prompt templates that ground
// the model in the hotel's policy documents.
package prompt

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	sprig "github.com/Masterminds/sprig/v3"
)

// Data is what a prompt template may reference. Context carries the
// retrieved policy passages already formatted for the model; Question is the
// guest's question for templates that want to restate it.
type Data struct {
	Context  string
	Question string
}

// Prompt is a compiled template ready for rendering. Safe for concurrent use.
type Prompt struct {
	name string
	tmpl *template.Template
}

// Library resolves prompt files from a single directory. Paths are validated
// against the root so a misconfigured prompt name cannot read files outside
// the prompts folder.
type Library struct {
	root  string
	funcs template.FuncMap
}

// NewLibrary opens a prompt library rooted at dir. The directory must exist.
func NewLibrary(dir string) (*Library, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("prompt: library root required")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("prompt: resolve root: %w", err)
	}
	abs, err = filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("prompt: eval root symlinks: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("prompt: stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("prompt: root %q is not a directory", abs)
	}
	return &Library{root: abs, funcs: promptFuncs()}, nil
}

// promptFuncs is the sprig function map minus everything that reaches the
// process environment or the filesystem. Prompt files are operator-supplied
// but still should not become a file read primitive.
func promptFuncs() template.FuncMap {
	funcs := sprig.TxtFuncMap()
	for _, name := range []string{
		"env",
		"expandenv",
		"readDir",
		"mustReadDir",
		"readFile",
		"mustReadFile",
		"glob",
	} {
		delete(funcs, name)
	}
	return funcs
}

// Load reads and compiles the named prompt file from the library root.
func (l *Library) Load(file string) (*Prompt, error) {
	resolved, err := l.resolve(file)
	if err != nil {
		return nil, err
	}
	contents, err := os.ReadFile(resolved)
	if err != nil {
		return nil, fmt.Errorf("prompt: read %q: %w", file, err)
	}
	return compile(filepath.Base(resolved), string(contents), l.funcs)
}

// resolve normalizes file against the library root and rejects anything that
// escapes it, including via symlinks.
func (l *Library) resolve(file string) (string, error) {
	cleaned := filepath.Clean(file)
	if cleaned == "." || cleaned == "" {
		return "", errors.New("prompt: file name required")
	}
	if !filepath.IsAbs(cleaned) {
		cleaned = filepath.Join(l.root, cleaned)
	}
	evaluated, err := filepath.EvalSymlinks(filepath.Clean(cleaned))
	if err != nil {
		return "", fmt.Errorf("prompt: resolve %q: %w", file, err)
	}
	if !l.contains(evaluated) {
		return "", fmt.Errorf("prompt: path %q escapes the prompts folder", file)
	}
	return evaluated, nil
}

func (l *Library) contains(candidate string) bool {
	if candidate == l.root {
		return true
	}
	root := l.root
	if !strings.HasSuffix(root, string(os.PathSeparator)) {
		root += string(os.PathSeparator)
	}
	return strings.HasPrefix(candidate, root)
}

// Default returns the built-in hotel policy prompt, used when no prompt file
// is deployed alongside the service.
func Default() *Prompt {
	p, err := compile("default", defaultSource, promptFuncs())
	if err != nil {
		// The built-in source is covered by tests; failing to compile it is
		// a programming error.
		panic(fmt.Sprintf("prompt: compile default: %v", err))
	}
	return p
}

func compile(name, source string, funcs template.FuncMap) (*Prompt, error) {
	if strings.TrimSpace(source) == "" {
		return nil, fmt.Errorf("prompt: %q is empty", name)
	}
	tmpl, err := template.New(name).Funcs(funcs).Option("missingkey=zero").Parse(source)
	if err != nil {
		return nil, fmt.Errorf("prompt: compile %q: %w", name, err)
	}
	return &Prompt{name: name, tmpl: tmpl}, nil
}

// Render executes the prompt with the retrieved context.
func (p *Prompt) Render(data Data) (string, error) {
	if p == nil {
		return "", errors.New("prompt: nil prompt")
	}
	var buf bytes.Buffer
	if err := p.tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("prompt: execute %q: %w", p.name, err)
	}
	return buf.String(), nil
}

// Name identifies the prompt in logs.
func (p *Prompt) Name() string {
	if p == nil {
		return ""
	}
	return p.name
}

// defaultSource mirrors the prompt the hotel deployment ships as a file. It
// instructs the model to answer only from the supplied passages and to admit
// plainly when the passages do not cover the question, which is what the
// fallback classifier keys on.
const defaultSource = `당신은 호텔 이용 규정을 안내하는 친절한 안내 직원입니다.
아래 문서 내용만을 근거로 고객의 질문에 답변하세요.

규칙:
- 문서에 있는 내용만 사용하고, 추측하거나 지어내지 마세요.
- 문서에서 답을 찾을 수 없으면 "문서에서 찾을 수 없습니다"라고 답하세요.
- 답변은 정중하고 간결하게 작성하세요.

[문서]
{{ .Context }}
`
