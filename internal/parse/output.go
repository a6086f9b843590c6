package parse

import (
	"fmt"
	"path"
	"strings"
)

// OutputKind discriminates what a parser asked the aggregator to do with one
// of its outputs.
type OutputKind int

const (
	// KindFile writes explicit content under a unique-suffixed path.
	KindFile OutputKind = iota
	// KindGlobalFile writes explicit content under the path as given.
	KindGlobalFile
	// KindPayloadFile writes the record's continuation payload verbatim.
	KindPayloadFile
	// KindPayloadReformatFile writes the payload after running it through
	// the output's Reformat function.
	KindPayloadReformatFile
	// KindLink records an external reference in the compile directory
	// without writing a file.
	KindLink
)

// ReformatFunc rewrites a continuation payload before it is written. A
// reformat failure is isolated: logged, counted against the parser, and the
// output is skipped.
type ReformatFunc func(payload string) (string, error)

// Output is one thing a parser produced for a record.
type Output struct {
	Kind     OutputKind
	Path     string
	Content  string
	Reformat ReformatFunc
	Name     string
	URL      string
}

// FileOutput returns a unique-suffixed file with explicit content.
func FileOutput(p, content string) Output {
	return Output{Kind: KindFile, Path: p, Content: content}
}

// GlobalFileOutput returns a file written under its path as given.
func GlobalFileOutput(p, content string) Output {
	return Output{Kind: KindGlobalFile, Path: p, Content: content}
}

// PayloadFileOutput returns a file whose content is the raw payload.
func PayloadFileOutput(p string) Output {
	return Output{Kind: KindPayloadFile, Path: p}
}

// PayloadReformatOutput returns a file whose content is the payload after
// reformatting.
func PayloadReformatOutput(p string, fn ReformatFunc) Output {
	return Output{Kind: KindPayloadReformatFile, Path: p, Reformat: fn}
}

// LinkOutput returns an external link entry for the compile directory.
func LinkOutput(name, url string) Output {
	return Output{Kind: KindLink, Name: name, URL: url}
}

// File is one materialized output of a pass, relative to the rank directory.
type File struct {
	Path    string
	Content string
}

// uniqueSuffix disambiguates same-named outputs by splicing the sequence
// number between the file stem and extension: graph.txt -> graph_3.txt.
func uniqueSuffix(p string, seq int) string {
	dir, base := path.Split(p)
	ext := path.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	if stem == "" {
		return p
	}
	return dir + fmt.Sprintf("%s_%d%s", stem, seq, ext)
}
