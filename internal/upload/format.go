package upload

import (
	"fmt"
	"mime"
	"path/filepath"
	"sort"
	"strings"
)

// FileType is a document format the service can ingest.
type FileType struct {
	Name       string
	Label      string
	Extensions []string
	MIMETypes  []string
}

var registry = map[string]FileType{}

func init() {
	Register(FileType{Name: "pdf", Label: "PDF", Extensions: []string{".pdf"}, MIMETypes: []string{"application/pdf"}})
	Register(FileType{Name: "epub", Label: "EPUB", Extensions: []string{".epub"}, MIMETypes: []string{"application/epub+zip"}})
	Register(FileType{Name: "txt", Label: "TXT", Extensions: []string{".txt"}, MIMETypes: []string{"text/plain"}})
}

// Register adds a file type to the registry, replacing any type with the same name.
func Register(ft FileType) {
	registry[ft.Name] = ft
}

// SupportedTypes returns registered type names with their extensions.
func SupportedTypes() []string {
	var out []string
	for _, ft := range registry {
		out = append(out, ft.Name+" ("+strings.Join(ft.Extensions, ", ")+")")
	}
	sort.Strings(out)
	return out
}

// presets are the accepted-type sets deployments choose between.
var presets = map[string][]string{
	"pdf-epub": {"pdf", "epub"},
	"pdf-txt":  {"pdf", "txt"},
	"epub":     {"epub"},
}

// Policy is the set of file types a pipeline accepts.
type Policy struct {
	types []FileType
}

// NewPolicy builds a policy from preset or type names. A single preset name
// ("pdf-epub", "pdf-txt", "epub") expands to its types; anything else is a
// list of registered type names.
func NewPolicy(names ...string) (Policy, error) {
	if len(names) == 1 {
		if expanded, ok := presets[strings.ToLower(strings.TrimSpace(names[0]))]; ok {
			names = expanded
		}
	}
	var p Policy
	seen := map[string]bool{}
	for _, n := range names {
		n = strings.ToLower(strings.TrimSpace(n))
		if n == "" || seen[n] {
			continue
		}
		ft, ok := registry[n]
		if !ok {
			return Policy{}, fmt.Errorf("unknown file type %q", n)
		}
		seen[n] = true
		p.types = append(p.types, ft)
	}
	if len(p.types) == 0 {
		return Policy{}, fmt.Errorf("no accepted file types configured")
	}
	return p, nil
}

// Labels returns the display labels of the accepted types, in policy order.
func (p Policy) Labels() []string {
	out := make([]string, len(p.types))
	for i, ft := range p.types {
		out[i] = ft.Label
	}
	return out
}

// Extensions returns every accepted extension, e.g. for a file dialog filter.
func (p Policy) Extensions() []string {
	var out []string
	for _, ft := range p.types {
		out = append(out, ft.Extensions...)
	}
	return out
}

// Message is the user-facing rejection text naming the accepted types,
// e.g. "Please select a PDF or EPUB file".
func (p Policy) Message() string {
	labels := p.Labels()
	var list string
	switch len(labels) {
	case 0:
		return "Please select a supported file"
	case 1:
		list = labels[0]
	default:
		list = strings.Join(labels[:len(labels)-1], ", ") + " or " + labels[len(labels)-1]
	}
	return "Please select " + article(list) + " " + list + " file"
}

// Accepts reports whether both the declared MIME type and the extension of c
// belong to the policy.
func (p Policy) Accepts(c Candidate) bool {
	ext := strings.ToLower(c.Extension)
	mt := mediaType(c.MIMEType)
	extOK, mimeOK := false, false
	for _, ft := range p.types {
		for _, e := range ft.Extensions {
			if e == ext {
				extOK = true
			}
		}
		for _, m := range ft.MIMETypes {
			if m == mt {
				mimeOK = true
			}
		}
	}
	return extOK && mimeOK
}

// typeForExtension finds the registered type owning ext.
func typeForExtension(ext string) (FileType, bool) {
	ext = strings.ToLower(ext)
	for _, ft := range registry {
		for _, e := range ft.Extensions {
			if e == ext {
				return ft, true
			}
		}
	}
	return FileType{}, false
}

// CandidateFromPath describes a local file the way a browser would: the
// extension from its name and a MIME type derived from the extension.
func CandidateFromPath(path string) Candidate {
	ext := strings.ToLower(filepath.Ext(path))
	mt := ""
	if ft, ok := typeForExtension(ext); ok {
		mt = ft.MIMETypes[0]
	} else {
		mt = mime.TypeByExtension(ext)
	}
	return Candidate{
		Name:      filepath.Base(path),
		Path:      path,
		MIMEType:  mt,
		Extension: ext,
	}
}

func mediaType(contentType string) string {
	if contentType == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(contentType))
	}
	return mt
}

func article(word string) string {
	if word != "" && strings.ContainsRune("AEIOU", rune(word[0])) {
		return "an"
	}
	return "a"
}
