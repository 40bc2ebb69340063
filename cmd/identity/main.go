// Command identity はイベントプラットフォームの認証・セッションサービスを起動する。
package main

import (
	"fmt"
	"os"

	"github.com/hitoshi/identity/internal/app"
)

func main() {
	if err := app.Run(os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "identity: %v\n", err)
		os.Exit(1)
	}
}
