// Package editor turns a FileWriteOrEdit request into an atomic file write.
//
// A request body is either a full file replacement or a sequence of
// search/replace blocks delimited by three line anchors:
//
//	<<<<<<< SEARCH
//	=======
//	>>>>>>> REPLACE
package editor

import (
	"regexp"
	"strings"

	"github.com/deskhand/deskhand/pkg/fault"
)

var (
	searchMarker  = regexp.MustCompile(`^<<<<<<< SEARCH\s*$`)
	dividerMarker = regexp.MustCompile(`^=======\s*$`)
	replaceMarker = regexp.MustCompile(`^>>>>>>> REPLACE\s*$`)
)

// Block is one literal substitution.
type Block struct {
	Search  string
	Replace string
}

// ParseBlocks extracts the search/replace blocks from a request body. At
// least one well-formed block is required.
func ParseBlocks(body string) ([]Block, error) {
	lines := strings.Split(body, "\n")
	var blocks []Block

	i := 0
	for i < len(lines) {
		if !searchMarker.MatchString(lines[i]) {
			i++
			continue
		}
		i++
		var search []string
		for i < len(lines) && !dividerMarker.MatchString(lines[i]) {
			search = append(search, lines[i])
			i++
		}
		if i >= len(lines) {
			return nil, fault.New(fault.SearchReplaceSyntax, "missing ======= marker")
		}
		i++
		var replace []string
		for i < len(lines) && !replaceMarker.MatchString(lines[i]) {
			replace = append(replace, lines[i])
			i++
		}
		if i >= len(lines) {
			return nil, fault.New(fault.SearchReplaceSyntax, "missing >>>>>>> REPLACE marker")
		}
		i++
		blocks = append(blocks, Block{
			Search:  strings.Join(search, "\n"),
			Replace: strings.Join(replace, "\n"),
		})
	}

	if len(blocks) == 0 {
		return nil, fault.New(fault.SearchReplaceSyntax, "no valid search/replace blocks found")
	}
	return blocks, nil
}
