// Package jsonutil prints structs as aligned, colored "Name: value" lines.
package jsonutil

import (
	"bytes"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/fatih/structs"
	"github.com/hokaccha/go-prettyjson"
)

var formatter *prettyjson.Formatter

func init() {
	formatter = prettyjson.NewFormatter()
	formatter.Indent = 0
	formatter.Newline = ""
}

// DisableColor turns off colors, for output that is not a terminal.
func DisableColor() {
	formatter.DisabledColor = true
}

// MarshalCompactPretty formats the exported fields of struct v, one field per line,
// sorted by name. time.Duration fields are printed in human readable form.
func MarshalCompactPretty(v any) ([]byte, error) {
	var fields []*structs.Field
	for _, f := range structs.New(v).Fields() {
		if f.IsExported() {
			fields = append(fields, f)
		}
	}
	sort.Slice(fields, func(i, j int) bool { return fields[i].Name() < fields[j].Name() })
	var width int
	for _, f := range fields {
		if len(f.Name()) > width {
			width = len(f.Name())
		}
	}
	var buf bytes.Buffer
	for _, f := range fields {
		b, err := formatter.Marshal(value(f.Value()))
		if err != nil {
			return nil, err
		}
		buf.WriteString(f.Name())
		buf.WriteString(":")
		buf.WriteString(strings.Repeat(" ", width-len(f.Name())+1))
		buf.Write(b)
		buf.WriteRune('\n')
	}
	return buf.Bytes(), nil
}

func value(v any) any {
	switch v := v.(type) {
	case time.Duration:
		return v.String()
	case time.Time:
		return v.Format(time.RFC3339)
	case fmt.Stringer:
		return v.String()
	}
	if structs.IsStruct(v) {
		m := structs.Map(v)
		for k, fv := range m {
			m[k] = value(fv)
		}
		return m
	}
	return v
}
