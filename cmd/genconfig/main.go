// Package main implements genconfig, which prints or writes the annotated
// default chatsync configuration.
//
//	genconfig              # print to stdout
//	genconfig -o cfg.toml  # write atomically to cfg.toml
package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"tools.zach/dev/chatsync/internal/atomicfile"
	"tools.zach/dev/chatsync/internal/config"
)

func main() {
	out := flag.String("o", "", "Write to this file instead of stdout")
	flag.Parse()
	if err := generate(*out, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "genconfig: %v\n", err)
		os.Exit(1)
	}
}

// generate renders the default config to path, or to w when path is empty.
func generate(path string, w io.Writer) error {
	data, err := config.Render(config.DefaultConfig())
	if err != nil {
		return fmt.Errorf("render: %w", err)
	}
	if path == "" {
		_, err = w.Write(data)
		return err
	}
	return atomicfile.Write(path, data, 0o644)
}
