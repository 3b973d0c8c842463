// chains 通过命令行、HTTP 或 NATS 运行内置流水线。
//
//	chains run joke --input '{"topic":"bears"}'
//	chains run topic --input '"bears"' --stream
//	chains serve
//	chains nats
//	chains index --text "harrison worked at kensho"
package main

import (
	"os"
)

// version 由构建时 -ldflags "-X main.version=..." 注入。
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
