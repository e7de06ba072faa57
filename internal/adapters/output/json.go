package output

import (
	"encoding/json"
	"io"
	"os"
)

// JSONPrinter prints JSON. Events are printed one per line.
type JSONPrinter struct {
	Out io.Writer
}

// Print renders JSON output.
func (p JSONPrinter) Print(v any) error {
	out := p.Out
	if out == nil {
		out = os.Stdout
	}
	enc := json.NewEncoder(out)
	if line, ok := v.(EventLine); ok {
		return enc.Encode(line.Envelope)
	}
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
