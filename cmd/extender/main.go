package main

import "github.com/goplus/extender/cmd/extender/internal"

func main() {
	internal.Execute()
}
