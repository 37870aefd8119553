package main

import (
	"fmt"
	"os"

	"github.com/llm-bench/llm-bench/cmd/llm-bench/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
