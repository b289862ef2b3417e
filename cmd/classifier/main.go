package main

import "github.com/vietddude/txclassifier/internal/cli"

func main() {
	cli.Execute()
}
