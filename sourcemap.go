package pipeline

import (
	"bytes"
	"encoding/json"
	"strings"
)

type indexMapOffset struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

type indexMapSection struct {
	Offset indexMapOffset  `json:"offset"`
	Map    json.RawMessage `json:"map"`
}

type indexMap struct {
	Version  int               `json:"version"`
	File     string            `json:"file"`
	Sections []indexMapSection `json:"sections"`
}

// concatWithIndexMap joins files with sep and builds a Source Map v3 index map
// with one section per file that carries a map. sep must end in a newline so
// every section starts at column zero.
func concatWithIndexMap(name string, files []File, sep string) ([]byte, []byte, error) {
	var buf bytes.Buffer
	m := indexMap{Version: 3, File: name, Sections: []indexMapSection{}}

	line := 0
	for i, f := range files {
		if i > 0 {
			buf.WriteString(sep)
			line += strings.Count(sep, "\n")
		}
		if len(f.SourceMap) > 0 {
			m.Sections = append(m.Sections, indexMapSection{
				Offset: indexMapOffset{Line: line},
				Map:    json.RawMessage(f.SourceMap),
			})
		}
		buf.Write(f.Contents)
		line += bytes.Count(f.Contents, []byte("\n"))
	}

	data, err := json.Marshal(m)
	if err != nil {
		return nil, nil, writeError(err, name+".map")
	}
	return buf.Bytes(), data, nil
}
