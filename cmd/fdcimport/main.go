package main

import (
	"context"
	"os"
)

func main() {
	root := newRootCmd()
	if err := Execute(context.Background(), root); err != nil {
		os.Exit(handleError(root, err))
	}
}
