package ttsgen

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
)

// Interactive reads lines from in and renders each one until "quit", "exit"
// or "q" (any case) or end of input. After each line it asks for a file
// name; an empty answer derives one from the text. A failed line is
// reported on out and the loop continues.
func (g *Generator) Interactive(ctx context.Context, in io.Reader, out io.Writer) error {
	sc := bufio.NewScanner(in)
	prompt := func(msg string) (string, bool) {
		fmt.Fprint(out, msg)
		if !sc.Scan() {
			return "", false
		}
		return strings.TrimSpace(sc.Text()), true
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		text, ok := prompt("text (quit to stop): ")
		if !ok {
			return sc.Err()
		}
		switch strings.ToLower(text) {
		case "quit", "exit", "q":
			return nil
		case "":
			continue
		}
		if g.ParamsFor(text).Style == SadParams.Style {
			fmt.Fprintln(out, "using the sad profile")
		}
		name, ok := prompt("file name (enter for automatic): ")
		if !ok {
			return sc.Err()
		}
		path, err := g.Generate(ctx, text, name)
		if err != nil {
			fmt.Fprintf(out, "failed: %v\n", err)
			continue
		}
		fmt.Fprintf(out, "saved %s\n", path)
	}
}
