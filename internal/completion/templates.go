package completion

import (
	"embed"
	"fmt"
	"strings"
)

//go:embed templates/*
var templateFS embed.FS

// Kind is the scaffold a prompt is classified into.
type Kind string

const (
	KindReact Kind = "react"
	KindNode  Kind = "node"
)

var (
	BasePrompt   = mustTemplate("base_prompt.txt")
	SystemPrompt = mustTemplate("system_prompt.txt")

	scaffolds = map[Kind]string{
		KindReact: mustTemplate("react.xml"),
		KindNode:  mustTemplate("node.xml"),
	}
)

const classifySystem = "Return either node or react based on what do you think this project should be. " +
	"Only return a single word either 'node' or 'react'. Do not return anything extra"

// Scaffold returns the base artifact for kind.
func Scaffold(kind Kind) (string, bool) {
	s, ok := scaffolds[kind]
	return s, ok
}

// contextPrompt tells the model which files already exist.
func contextPrompt(artifact string) string {
	return fmt.Sprintf("Here is an artifact that contains all files of the project visible to you.\n"+
		"Consider the contents of ALL files in the project.\n\n%s\n\n"+
		"Here is a list of files that exist on the file system but are not being shown to you:\n\n"+
		"  - .gitignore\n  - package-lock.json\n", strings.TrimSpace(artifact))
}

func mustTemplate(name string) string {
	b, err := templateFS.ReadFile("templates/" + name)
	if err != nil {
		panic(fmt.Sprintf("completion: missing template %s: %v", name, err))
	}
	return string(b)
}
